// Package rules keeps the learned-rule memory: natural-language rules
// taught by the user, grouped by domain and injected back into prompts.
package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	MaxRulesPerDomain = 50
	maxCorrections    = 100

	// GlobalDomain rules apply to every other domain.
	GlobalDomain = "global"
)

type Rule struct {
	Text      string `json:"text"`
	Category  string `json:"category"`
	CreatedAt string `json:"created_at"`
	UsedCount int    `json:"used_count"`
}

type Correction struct {
	UserMsg    string `json:"user_msg"`
	Wrong      string `json:"wrong"`
	Correction string `json:"correction"`
	CreatedAt  string `json:"created_at"`
}

// Document is the whole persisted rule memory.
type Document struct {
	Rules       map[string][]Rule `json:"rules"`
	Corrections []Correction      `json:"corrections"`
	UpdatedAt   string            `json:"updated_at"`
}

func emptyDocument() *Document {
	return &Document{Rules: map[string][]Rule{}}
}

// Repository persists the rule document as a whole. Implementations must
// return an empty document (not an error) for absent or corrupt state.
type Repository interface {
	Load() (*Document, error)
	Save(doc *Document) error
}

type AddResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Count   int    `json:"count"`
}

// Store serializes all rule reads and writes over a Repository.
type Store struct {
	mu   sync.Mutex
	repo Repository
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// AddRule appends a rule to a domain, rejecting exact-text duplicates and
// evicting the oldest entries beyond MaxRulesPerDomain.
func (s *Store) AddRule(domain, text, category string) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return AddResult{}, fmt.Errorf("load rules: %w", err)
	}

	list := doc.Rules[domain]
	for _, existing := range list {
		if existing.Text == text {
			return AddResult{Success: false, Reason: "duplicate", Count: len(list)}, nil
		}
	}

	list = append(list, Rule{
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().Format(time.RFC3339),
	})
	if len(list) > MaxRulesPerDomain {
		list = list[len(list)-MaxRulesPerDomain:]
	}
	doc.Rules[domain] = list

	if err := s.save(doc); err != nil {
		return AddResult{}, err
	}
	return AddResult{Success: true, Count: len(list)}, nil
}

// RemoveRule removes a rule by 0-based index within its domain list.
func (s *Store) RemoveRule(domain string, index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return "", false, fmt.Errorf("load rules: %w", err)
	}

	list := doc.Rules[domain]
	if index < 0 || index >= len(list) {
		return "", false, nil
	}
	removed := list[index]
	doc.Rules[domain] = append(list[:index], list[index+1:]...)

	if err := s.save(doc); err != nil {
		return "", false, err
	}
	return removed.Text, true, nil
}

// Rules returns a domain's rules, concatenated with the global domain's
// unless the domain is global itself.
func (s *Store) Rules(domain string, includeGlobal bool) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	out := append([]Rule(nil), doc.Rules[domain]...)
	if includeGlobal && domain != GlobalDomain {
		out = append(out, doc.Rules[GlobalDomain]...)
	}
	return out, nil
}

// ListRules returns all rules, or a single domain's when domain != "".
func (s *Store) ListRules(domain string) (map[string][]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if domain != "" {
		return map[string][]Rule{domain: doc.Rules[domain]}, nil
	}
	return doc.Rules, nil
}

var categoryPrefixes = map[string]string{
	"mapping":    "매핑",
	"preference": "선호",
	"correction": "수정",
	"general":    "규칙",
}

// RulesAsPrompt renders the domain's rules (plus global) as a system
// prompt block and bumps used_count on every rule included. Returns ""
// when no rules exist. The count bump makes this a deliberately non-pure
// read.
func (s *Store) RulesAsPrompt(domain string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return "", fmt.Errorf("load rules: %w", err)
	}

	included := append([]Rule(nil), doc.Rules[domain]...)
	if domain != GlobalDomain {
		included = append(included, doc.Rules[GlobalDomain]...)
	}
	if len(included) == 0 {
		return "", nil
	}

	lines := []string{"\n\n## 학습된 규칙 (사용자가 가르쳐준 내용)"}
	for _, r := range included {
		prefix, ok := categoryPrefixes[r.Category]
		if !ok {
			prefix = "규칙"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", prefix, r.Text))
	}

	bump := func(list []Rule) {
		for i := range list {
			list[i].UsedCount++
		}
	}
	bump(doc.Rules[domain])
	if domain != GlobalDomain {
		bump(doc.Rules[GlobalDomain])
	}
	if err := s.save(doc); err != nil {
		return "", err
	}

	return strings.Join(lines, "\n"), nil
}

// AddCorrection records a wrong response and what it should have been,
// keeping the most recent 100 entries.
func (s *Store) AddCorrection(userMsg, wrong, correction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.repo.Load()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if len(wrong) > 200 {
		wrong = wrong[:200]
	}
	doc.Corrections = append(doc.Corrections, Correction{
		UserMsg:    userMsg,
		Wrong:      wrong,
		Correction: correction,
		CreatedAt:  time.Now().Format(time.RFC3339),
	})
	if len(doc.Corrections) > maxCorrections {
		doc.Corrections = doc.Corrections[len(doc.Corrections)-maxCorrections:]
	}
	return s.save(doc)
}

func (s *Store) save(doc *Document) error {
	doc.UpdatedAt = time.Now().Format(time.RFC3339)
	if err := s.repo.Save(doc); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}
