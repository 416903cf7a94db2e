package session

import (
	"fmt"
	"strings"
)

// summarizeQuestion is the fixed first entry of every suggested question
// list.
const summarizeQuestion = "Summarize recent discussion"

// defaultQuestions fill the rotating slots before the transcript has any
// content.
var defaultQuestions = []string{
	"What are the main topics being discussed?",
	"What decisions have been made so far?",
	"Are there any action items or next steps?",
	"What questions or concerns were raised?",
}

// fallbackQuestions pad a generation that produced fewer usable questions
// than requested.
var fallbackQuestions = []string{
	"What are the key technical details mentioned?",
	"What are the next steps or action items?",
	"Who is responsible for each task?",
	"What timeline was discussed?",
}

// promptContext carries the shared inputs every prompt builder needs.
type promptContext struct {
	focus               string
	knowledge           string
	knowledgeTruncated  bool
	transcript          string
	transcriptTruncated bool
}

// focusPrefix renders the session focus header, or "" without a focus.
func focusPrefix(focus string) string {
	if focus == "" {
		return ""
	}
	return fmt.Sprintf("The user's goal for this session is: '%s'\n\n", focus)
}

// knowledgeSection renders the background-document block, or "" without
// knowledge.
func knowledgeSection(knowledge string, truncated bool) string {
	if knowledge == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Background documents provided for this session")
	if truncated {
		b.WriteString(" (oldest documents omitted for length)")
	}
	b.WriteString(":\n")
	b.WriteString(knowledge)
	b.WriteString("\n\n")
	return b.String()
}

// transcriptBlock renders the transcript body for a prompt, with an explicit
// truncation note when oldest lines were dropped to fit the byte budget.
func transcriptBlock(text string, truncated bool) string {
	if text == "" {
		return "No meeting context available yet."
	}
	if truncated {
		return "[earlier transcript omitted for length]\n" + text
	}
	return text
}

// qaPrompt builds the prompt for answering a subscriber question over the
// complete transcript.
func qaPrompt(in promptContext, question string) string {
	return fmt.Sprintf(`%s%sYou are an AI assistant with access to the COMPLETE meeting transcript from beginning to end. Please answer the following question using ANY information from the ENTIRE meeting.

Complete Meeting Transcript (everything from start to now):
%s

Question: %s

Please provide a comprehensive answer based on the ENTIRE meeting transcript. If the answer requires information from earlier in the meeting, please include it.

Answer:`,
		focusPrefix(in.focus),
		knowledgeSection(in.knowledge, in.knowledgeTruncated),
		transcriptBlock(in.transcript, in.transcriptTruncated),
		question)
}

// insightsPrompt asks for a summary, action items, and follow-up questions in
// one generation, formatted for the line-oriented parser.
func insightsPrompt(in promptContext) string {
	return fmt.Sprintf(`%s%sBased on the meeting transcript, produce three things:
1. A short summary of what is happening in the conversation (2-3 sentences).
2. Action items, one per line, each starting with "- ".
3. Follow-up questions worth asking, one per line, each ending with a question mark.

Complete Meeting Transcript:
%s

Keep every item on its own line. Do not add section headings.`,
		focusPrefix(in.focus),
		knowledgeSection(in.knowledge, in.knowledgeTruncated),
		transcriptBlock(in.transcript, in.transcriptTruncated))
}

// questionsPrompt asks for candidate suggested questions over the full
// transcript.
func questionsPrompt(in promptContext, n int) string {
	return fmt.Sprintf(`%s%sBased on the COMPLETE meeting transcript from beginning to end, generate exactly %d specific questions that attendees might want to ask. These should be relevant to ANY topics discussed throughout the ENTIRE meeting, not just recent parts.

Complete Meeting Transcript (entire history):
%s

List exactly %d questions, one per line, without numbering or bullet points. Each question should end with a question mark.`,
		focusPrefix(in.focus),
		knowledgeSection(in.knowledge, in.knowledgeTruncated),
		n,
		transcriptBlock(in.transcript, in.transcriptTruncated),
		n)
}

// questionMarkers are the leading characters stripped from generated
// question lines.
const questionMarkers = "0123456789.-*•● "

// parseInsights classifies free-form generation output line by line. A line
// ending with a question mark is a QUESTION, a line that carried a list
// marker is an ACTION_ITEM, and consecutive plain lines merge into one
// SUMMARY insight. Kind and Text only; the caller stamps the rest.
func parseInsights(raw string) []Insight {
	var (
		out     []Insight
		summary []string
	)
	flushSummary := func() {
		if len(summary) == 0 {
			return
		}
		out = append(out, Insight{Kind: InsightSummary, Text: strings.Join(summary, " ")})
		summary = summary[:0]
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		stripped := strings.TrimSpace(strings.TrimLeft(line, questionMarkers))
		if stripped == "" {
			flushSummary()
			continue
		}
		hadMarker := len(stripped) < len(line)
		switch {
		case strings.HasSuffix(stripped, "?"):
			flushSummary()
			out = append(out, Insight{Kind: InsightQuestion, Text: stripped})
		case hadMarker:
			flushSummary()
			out = append(out, Insight{Kind: InsightActionItem, Text: stripped})
		default:
			summary = append(summary, stripped)
		}
	}
	flushSummary()
	return out
}

// cleanQuestionLines extracts usable questions from a raw generation: one per
// line, markers stripped, only lines containing a question mark kept.
func cleanQuestionLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, questionMarkers)
		line = strings.TrimSpace(line)
		if line != "" && strings.Contains(line, "?") {
			out = append(out, line)
		}
	}
	return out
}
