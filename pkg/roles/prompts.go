package roles

import (
	"fmt"
	"strings"

	"github.com/acelabs/ace-go/pkg/playbook"
)

const generatorPromptTemplate = `You are solving a task. Use the strategy playbook below when it helps, and cite every strategy you rely on with its [ACE:<strategy_id>] marker inside your reasoning.

%s

Task:
%s
%s
Respond with ONLY a JSON object:
{"reasoning": "<step-by-step reasoning, with [ACE:id] citations inline>", "answer": "<final answer>"}`

const reflectorPromptTemplate = `You are reviewing a completed task attempt to learn from it.

Question:
%s

Reasoning:
%s

Answer:
%s

Verdict: %s (score %.2f, confidence %.2f)%s

Cited strategies:
%s
%s
Classify every cited strategy as "helpful", "harmful", or "neutral" for this attempt. When a strategy's wording actively misled the attempt, set "misleading" true and propose a corrected wording. Propose at most three new insights that are not already covered by a cited strategy; give each a short section name (e.g. "strategies", "pitfalls") and a confidence between 0 and 1.

Respond with ONLY a JSON object:
{"feedback": [{"bullet_id": "...", "outcome": "helpful|harmful|neutral", "reason": "...", "misleading": false, "revised_content": ""}], "root_cause": "...", "insights": [{"content": "...", "section": "...", "confidence": 0.0}]}`

const rewritePromptTemplate = `The following strategy entry misled an agent:

%s

What went wrong: %s

Rewrite the entry so it states the strategy accurately. Keep it to one or two sentences.

Respond with ONLY a JSON object:
{"content": "<rewritten strategy>"}`

func generatorPrompt(question, extra string, block *playbook.ContextBlock) string {
	instructions := "(the strategy playbook is empty)"
	if block != nil {
		instructions = block.Instructions
	}
	contextPart := ""
	if extra != "" {
		contextPart = "\nContext:\n" + extra + "\n"
	}
	return fmt.Sprintf(generatorPromptTemplate, instructions, question, contextPart)
}

func reflectorPrompt(trace *GeneratorTrace, verdict Verdict, cited []playbook.Bullet) string {
	groundTruth := ""
	if verdict.GroundTruth != "" {
		groundTruth = "\nGround truth answer:\n" + verdict.GroundTruth
	}

	var citedLines []string
	for _, b := range cited {
		citedLines = append(citedLines, fmt.Sprintf("- %s: %s", b.ID, b.Content))
	}
	citedBlock := "(none)"
	if len(citedLines) > 0 {
		citedBlock = strings.Join(citedLines, "\n")
	}

	flags := ""
	if len(trace.InvalidCitations) > 0 {
		flags = fmt.Sprintf("\nData-quality warning: the attempt cited unknown strategy ids %s. Do not classify them.\n",
			strings.Join(trace.InvalidCitations, ", "))
	}

	return fmt.Sprintf(reflectorPromptTemplate,
		trace.Question, trace.Reasoning, trace.Answer,
		verdict.Label, verdict.Score, verdict.Confidence, groundTruth,
		citedBlock, flags)
}

func rewritePrompt(b playbook.Bullet, reason string) string {
	return fmt.Sprintf(rewritePromptTemplate, b.Content, reason)
}
