package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildPrompt builds the strict-JSON analysis prompt for one transcript.
// vocab lists the allowed labels per field; empty lists are left open.
func BuildPrompt(transcript string, vocab Normalizer) string {
	prompt := `You are an expert call quality and customer insights engine for restaurants.

Analyze the CALL TRANSCRIPT between restaurant staff (agent) and a guest
(customer) and produce insights strictly following the JSON schema below.
Ground every field in the transcript. If information is missing, leave fields
empty or set them to 0 instead of inventing details.

----------------------------------------------------------------------
SCHEMA (STRICT - RETURN ONLY JSON)
{
  "summary": "",
  "intent": "",
  "secondary_intents": [],
  "outcome": "",
  "sentiment": "",
  "friction_points": [],
  "suggestions": [],
  "entities": {},
  "quality_score": 0
}
----------------------------------------------------------------------

GUIDELINES:
1. summary: two sentences at most, no phone numbers.
2. intent: the guest's main reason for calling.%s
3. outcome: how the call ended.%s
4. sentiment: the guest's overall sentiment.%s
5. friction_points: short phrases naming what slowed or annoyed the guest.
6. suggestions: concrete actions the restaurant could take.
7. entities: names, dates, times, party sizes, dishes, order numbers.
8. quality_score: 0-100 for how well staff handled the call.

DO NOT include commentary.
DO NOT wrap JSON in backticks.

TRANSCRIPT:
%s

----------------------------------------------------------------------
Return ONLY valid JSON that exactly matches the SCHEMA.
`
	return fmt.Sprintf(prompt,
		oneOf(vocab.Intents), oneOf(vocab.Outcomes), oneOf(vocab.Sentiments),
		transcript)
}

func oneOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return " One of: " + strings.Join(values, ", ") + "."
}

// decodeAnalysis reads an Analysis out of raw model output.
func decodeAnalysis(raw string) (*Analysis, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON found in LLM output")
	}
	var a Analysis
	if err := json.Unmarshal([]byte(candidate), &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &a, nil
}

// extractContentFromChoices attempts to read openai-style choices[0].message.content JSON
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```yaml", "```text", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
