package optout

import "strings"

// Action is the effect of an inbound compliance keyword.
type Action int

const (
	ActionNone Action = iota
	ActionOptOut
	ActionOptIn
)

// Bilingual (pt-BR / en) STOP- and START-class keyword lists. Matching is an
// exact match of the trimmed, lowercased message text.
var (
	stopKeywords = map[string]struct{}{
		"stop": {}, "cancel": {}, "unsubscribe": {}, "quit": {},
		"pare": {}, "parar": {}, "cancelar": {}, "sair": {}, "remover": {},
	}
	startKeywords = map[string]struct{}{
		"start": {}, "unstop": {}, "subscribe": {},
		"voltar": {}, "iniciar": {}, "receber": {},
	}
)

// DetectKeyword classifies an inbound text as a STOP/START keyword.
func DetectKeyword(text string) Action {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".,!?")
	if t == "" {
		return ActionNone
	}
	if _, ok := stopKeywords[t]; ok {
		return ActionOptOut
	}
	if _, ok := startKeywords[t]; ok {
		return ActionOptIn
	}
	return ActionNone
}
