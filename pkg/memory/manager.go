package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/agentflow/pkg/models"
)

const (
	DefaultContextMessages = 5
	DefaultRecallResults   = 3
)

// Manager composes an agent's conversation window with its long-term collection.
// longTerm may be nil, in which case long-term operations are no-ops.
type Manager struct {
	agentID      string
	conversation *Conversation
	longTerm     LongTerm
	logger       *slog.Logger
}

func NewManager(agentID string, maxMessages int, longTerm LongTerm, logger *slog.Logger) *Manager {
	return &Manager{
		agentID:      agentID,
		conversation: NewConversation(maxMessages),
		longTerm:     longTerm,
		logger:       logger.With("module", "memory", "agent_id", agentID),
	}
}

func (m *Manager) AgentID() string {
	return m.agentID
}

func (m *Manager) Conversation() *Conversation {
	return m.conversation
}

func (m *Manager) HasLongTerm() bool {
	return m.longTerm != nil
}

// AddInteraction records a user/assistant exchange and optionally commits it to long-term memory.
func (m *Manager) AddInteraction(ctx context.Context, userMessage, assistantMessage string, metadata map[string]any, saveToLongTerm bool) error {
	m.conversation.Add(RoleUser, userMessage, metadata)
	m.conversation.Add(RoleAssistant, assistantMessage, metadata)

	if !saveToLongTerm || m.longTerm == nil {
		return nil
	}

	combined := "User: " + userMessage + "\nAssistant: " + assistantMessage

	_, err := m.longTerm.Add(ctx, combined, m.tag(metadata, "interaction"), "")
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}

	return nil
}

// AddFact stores fact in long-term memory.
func (m *Manager) AddFact(ctx context.Context, fact string, metadata map[string]any) error {
	if m.longTerm == nil {
		return nil
	}

	_, err := m.longTerm.Add(ctx, fact, m.tag(metadata, "fact"), "")
	if err != nil {
		return fmt.Errorf("failed to save fact: %w", err)
	}

	return nil
}

// Recall returns the contents of the k closest long-term items.
func (m *Manager) Recall(ctx context.Context, query string, k int) ([]string, error) {
	if m.longTerm == nil {
		return nil, nil
	}

	results, err := m.longTerm.Search(ctx, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to recall: %w", err)
	}

	contents := make([]string, len(results))
	for i, result := range results {
		contents[i] = result.Content
	}

	return contents, nil
}

type ContextOptions struct {
	IncludeConversation  bool
	IncludeLongTerm      bool
	ConversationMessages int
	LongTermResults      int
}

func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		IncludeConversation:  true,
		IncludeLongTerm:      true,
		ConversationMessages: DefaultContextMessages,
		LongTermResults:      DefaultRecallResults,
	}
}

// GetContextForPrompt renders the recent transcript followed by numbered recalled
// items. Empty sections are omitted entirely. A failing recall is logged and its
// section omitted.
func (m *Manager) GetContextForPrompt(ctx context.Context, query string, opts ContextOptions) string {
	var sections []string

	if opts.IncludeConversation {
		transcript := m.conversation.Transcript(orDefault(opts.ConversationMessages, DefaultContextMessages))
		if transcript != "" {
			sections = append(sections, "Recent Conversation:\n"+transcript)
		}
	}

	if opts.IncludeLongTerm && m.longTerm != nil {
		recalled, err := m.Recall(ctx, query, orDefault(opts.LongTermResults, DefaultRecallResults))
		if err != nil {
			m.logger.WarnContext(ctx, "Long-term recall failed", "error", err)
		}

		if len(recalled) > 0 {
			lines := make([]string, len(recalled))
			for i, content := range recalled {
				lines[i] = strconv.Itoa(i+1) + ". " + content
			}

			sections = append(sections, "Relevant Context from Memory:\n"+strings.Join(lines, "\n"))
		}
	}

	return strings.Join(sections, "\n\n")
}

func (m *Manager) tag(metadata map[string]any, kind string) map[string]any {
	tagged := maps.Clone(metadata)
	if tagged == nil {
		tagged = make(map[string]any, 2)
	}

	tagged["agent_id"] = m.agentID
	tagged["type"] = kind

	return tagged
}

func orDefault(n, fallback int) int {
	if n > 0 {
		return n
	}

	return fallback
}

// Scope owns the managers of one execution, one per agent id.
type Scope struct {
	mu       sync.Mutex
	backend  Backend
	managers map[string]*Manager
	logger   *slog.Logger
}

// NewScope creates a Scope. backend may be nil to disable long-term memory.
func NewScope(backend Backend, logger *slog.Logger) *Scope {
	return &Scope{
		backend:  backend,
		managers: make(map[string]*Manager),
		logger:   logger,
	}
}

// ForAgent returns the manager for agentID, creating it from cfg on first use.
func (s *Scope) ForAgent(agentID string, cfg models.MemoryConfig) *Manager {
	s.mu.Lock()
	defer s.mu.Unlock()

	if manager, ok := s.managers[agentID]; ok {
		return manager
	}

	var longTerm LongTerm
	if cfg.LongTerm && s.backend != nil {
		longTerm = s.backend.Collection(CollectionName(agentID))
	}

	manager := NewManager(agentID, cfg.MaxMessages, longTerm, s.logger)
	s.managers[agentID] = manager

	return manager
}

// CollectionName is the long-term collection used by an agent.
func CollectionName(agentID string) string {
	return "agent_" + agentID + "_memory"
}
