package service

import (
	"fmt"
	"strings"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// Prompt construction for the three deliberation stages. The prompts are the
// contract with the backends: Stage 2 responders must end with the
// "FINAL RANKING:" sentinel, and the chairman must emit the two metadata
// lines parsed by the synthesis stage.

// rankingSentinel marks the start of the structured ranking list in a
// Stage 2 reply.
const rankingSentinel = "FINAL RANKING:"

// Chairman metadata line prefixes.
const (
	primarySourcePrefix = "# Primary source:"
	confidencePrefix    = "# Confidence:"
)

func buildSolutionPrompt(userQuery string) string {
	return userQuery + `

INSTRUCTIONS:
- Answer the question or solve the problem directly.
- Use plain text unless code is explicitly requested.
- Handle edge cases the question mentions.
- Make reasonable assumptions if details are missing.
- Do NOT ask questions or request clarification.
- Do NOT add meta-commentary about your reasoning process.`
}

func buildRankingPrompt(userQuery string, replies []entity.ModelReply, labels []string) string {
	var responses strings.Builder
	for i, reply := range replies {
		if i > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "%s:\n%s", labels[i], reply.Content)
	}

	return fmt.Sprintf(`Evaluate the responses to this question: %s

Responses (anonymized):
%s

Decide first whether the question asks for code or for a plain-text answer,
then apply the matching criteria set.

PLAIN-TEXT CRITERIA (weighted):
1. CORRECTNESS (45%%): factually accurate, answers the exact question
2. COMPLETENESS (20%%): covers every part of the question
3. CLARITY (15%%): well structured, easy to follow
4. SAFETY (10%%): no harmful or misleading guidance
5. PRACTICALITY (10%%): actionable, appropriately scoped

CODE CRITERIA (weighted):
1. CORRECTNESS (40%%): solves the exact problem, edge cases handled, no bugs
2. SECURITY (20%%): input validation, no injection risks
3. CODE QUALITY (15%%): readable, documented, idiomatic
4. PERFORMANCE (10%%): efficient algorithm and data structures
5. MAINTAINABILITY (10%%): modular, easy to extend
6. STANDARD PRACTICES (5%%): standard library and proven patterns

IMPORTANT:
- Rank responses that address the exact question highest.
- Provide ranking only. Do not ask questions.

Evaluate each response briefly, then end your answer with:

FINAL RANKING:
1. Response X
2. Response Y
3. Response Z`, userQuery, responses.String())
}

func buildChairmanPrompt(userQuery string, replies []entity.ModelReply, rankings []entity.Ranking) string {
	var stage1 strings.Builder
	for i, reply := range replies {
		if i > 0 {
			stage1.WriteString("\n\n")
		}
		fmt.Fprintf(&stage1, "Model: %s\nResponse: %s", reply.Model, reply.Content)
	}

	var stage2 strings.Builder
	for i, ranking := range rankings {
		if i > 0 {
			stage2.WriteString("\n\n")
		}
		fmt.Fprintf(&stage2, "Model: %s\nRanking: %s", ranking.Model, ranking.Raw)
	}

	return fmt.Sprintf(`Synthesize the best answer from multiple model responses.

Original question: %s

Individual responses:
%s

Peer rankings:
%s

SYNTHESIS RULES:
1. PREFER content ranked highly by multiple models (consensus).
2. SYNTHESIZE best aspects: correctness from one, clarity from another.
3. USE plain text unless code was explicitly requested.
4. PROVIDE the answer directly - no preamble, no process explanations.

CRITICAL:
- Output ONLY the answer.
- No "Given the context..." or "Based on evaluations..."
- No meta-commentary about the council process.

After the answer, add two lines:
# Primary source: ModelName (or "Synthesized from multiple models" if combining)
# Confidence: XX%% (your confidence this answer is correct, 0-100)

Provide the answer directly:`, userQuery, stage1.String(), stage2.String())
}

func buildTitlePrompt(userQuery string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)
}
