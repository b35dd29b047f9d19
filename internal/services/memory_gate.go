package services

import (
	"regexp"
	"strings"
)

// Extraction is one key/value fact pulled out of free-form conversational text.
type Extraction struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MemoryGate decides whether conversational content carries a durable fact.
// It is a closed pattern table: content matching nothing yields an empty
// result, never a catch-all "misc" save. That single rule is what keeps the
// memory table from filling up with small talk.
type MemoryGate interface {
	Extract(text string) []Extraction
}

type gatePattern struct {
	key string
	re  *regexp.Regexp
}

// Patterns cover pt-BR (the product's primary locale) plus the common English
// phrasings. Capture group 1 is always the value.
var gatePatterns = []gatePattern{
	{"nome_usuario", regexp.MustCompile(`(?i)\b(?:meu nome é|me chamo|pode me chamar de|my name is|call me)\s+([\p{L}][\p{L} '.-]{1,60}?)(?:\s*[,.!?]|$)`)},
	{"empresa", regexp.MustCompile(`(?i)\b(?:minha empresa(?: se chama| é)?|trabalho na|trabalho no|my company is|i work at)\s+([\p{L}\d][\p{L}\d &'.-]{1,80}?)(?:\s*[,.!?]|$)`)},
	{"endereco", regexp.MustCompile(`(?i)\b(?:moro em|moro na|moro no|i live in|minha cidade é)\s+([\p{L}\d][\p{L}\d ,'.-]{1,100}?)(?:\s*[.!?]|$)`)},
	{"email", regexp.MustCompile(`(?i)\b(?:meu e-?mail é|my email is)\s+([a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,})`)},
	{"telefone", regexp.MustCompile(`(?i)\b(?:meu telefone é|meu celular é|my phone(?: number)? is)\s+([\d ()+-]{8,20})`)},
	{"preferencia", regexp.MustCompile(`(?i)\b(?:eu prefiro|prefiro|i prefer)\s+(.{3,120}?)(?:\s*[.!?]|$)`)},
	{"faturamento", regexp.MustCompile(`(?i)\b(?:meu faturamento(?: mensal)? é(?: de)?|faturamos)\s+(.{2,60}?)(?:\s*[.!?]|$)`)},
}

type regexMemoryGate struct{}

func NewMemoryGate() MemoryGate {
	return regexMemoryGate{}
}

func (regexMemoryGate) Extract(text string) []Extraction {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []Extraction
	seen := make(map[string]bool)
	for _, p := range gatePatterns {
		if seen[p.key] {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		seen[p.key] = true
		out = append(out, Extraction{Key: p.key, Value: value})
	}
	return out
}
