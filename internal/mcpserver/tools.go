package mcpserver

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/proposal"
)

type EmptyInput struct{}

type ProposalInput struct {
	ID string `json:"id" jsonschema:"proposal id as listed by list_pending"`
}

type MessagesInput struct {
	Messages []string `json:"messages,omitempty" jsonschema:"recent conversation messages, oldest first"`
}

type NarrativeInput struct {
	Text     string `json:"text" jsonschema:"narrative output to extract changes from"`
	Continue bool   `json:"continue,omitempty" jsonschema:"text continues the previous narrative"`
	Previous string `json:"previous,omitempty" jsonschema:"the narrative being continued"`
}

type DocumentInput struct {
	Filename string `json:"filename" jsonschema:"document filename, e.g. npc_skitter.json"`
	Content  string `json:"content" jsonschema:"the JSON document"`
}

type SwitchContextInput struct {
	ContextID string `json:"context_id" jsonschema:"conversation context to make active"`
}

type LinkInput struct {
	StoreID string `json:"store_id" jsonschema:"existing document set id"`
}

type CreateStoreInput struct {
	Description string `json:"description,omitempty" jsonschema:"description of the new document set"`
}

type ProposalOutput struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Target      string `json:"target,omitempty"`
	Description string `json:"description"`
	OldValue    any    `json:"old_value,omitempty"`
	NewValue    any    `json:"new_value,omitempty"`
	Preview     string `json:"preview,omitempty"`
	Expanded    bool   `json:"expanded"`
}

type ListPendingOutput struct {
	Proposals []ProposalOutput `json:"proposals"`
}

type StatusOutput struct {
	ContextID string `json:"context_id"`
	StoreID   string `json:"store_id,omitempty"`
	Status    string `json:"status"`
	Pending   int    `json:"pending"`
}

type DecisionOutput struct {
	Affected int    `json:"affected"`
	Status   string `json:"status"`
	Pending  int    `json:"pending"`
}

type NarrativeOutput struct {
	Queued  int    `json:"queued"`
	Dropped string `json:"dropped,omitempty"`
}

type InjectionOutput struct {
	World    string   `json:"world"`
	NPCs     string   `json:"npcs"`
	Selected []string `json:"selected"`
}

type SummaryOutput struct {
	Summary string `json:"summary"`
}

type CreateStoreOutput struct {
	StoreID string `json:"store_id"`
	Status  string `json:"status"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "status",
		Description: "Show the active context, linked store and last status line",
	}, s.handleStatus)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_pending",
		Description: "List proposals pending review in queue order",
	}, s.handleListPending)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "accept",
		Description: "Apply one pending proposal",
	}, s.handleAccept)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "deny",
		Description: "Discard one pending proposal without applying it",
	}, s.handleDeny)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "accept_all",
		Description: "Apply every pending proposal in order",
	}, s.handleAcceptAll)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "deny_all",
		Description: "Discard every pending proposal",
	}, s.handleDenyAll)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "toggle",
		Description: "Expand or collapse the preview of a pending proposal",
	}, s.handleToggle)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "handle_narrative",
		Description: "Extract world changes from narrative text and queue them for review",
	}, s.handleNarrative)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "import_document",
		Description: "Queue a whole JSON document for review as a single proposal",
	}, s.handleImport)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "edit_document",
		Description: "Replace a document with hand-edited JSON, bypassing review",
	}, s.handleEdit)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "injection",
		Description: "Render the world state and relevant character cards for prompt injection",
	}, s.handleInjection)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "summary",
		Description: "Render the one-line-per-fact panel summary",
	}, s.handleSummary)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "switch_context",
		Description: "Make a conversation context active and load its world state",
	}, s.handleSwitchContext)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "link",
		Description: "Link the active context to an existing document set",
	}, s.handleLink)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "sync",
		Description: "Reload the world state from the linked document set",
	}, s.handleSync)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "create_store",
		Description: "Create a new document set with default documents and link it",
	}, s.handleCreateStore)
}

func (s *Server) status() StatusOutput {
	return StatusOutput{
		ContextID: s.session.ContextID(),
		StoreID:   s.session.StoreID(),
		Status:    s.session.Status(),
		Pending:   len(s.session.Pending()),
	}
}

func (s *Server) decision(n int) DecisionOutput {
	return DecisionOutput{Affected: n, Status: s.session.Status(), Pending: len(s.session.Pending())}
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, StatusOutput, error) {
	return nil, s.status(), nil
}

func (s *Server) handleListPending(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ListPendingOutput, error) {
	pending := s.session.Pending()
	output := make([]ProposalOutput, 0, len(pending))
	for _, p := range pending {
		output = append(output, proposalOutput(p))
	}
	return nil, ListPendingOutput{Proposals: output}, nil
}

func (s *Server) handleAccept(ctx context.Context, req *sdk.CallToolRequest, input ProposalInput) (*sdk.CallToolResult, DecisionOutput, error) {
	if input.ID == "" {
		return nil, DecisionOutput{}, fmt.Errorf("id is required")
	}
	if !s.session.Accept(input.ID) {
		return nil, DecisionOutput{}, fmt.Errorf("proposal %q is not pending", input.ID)
	}
	return nil, s.decision(1), nil
}

func (s *Server) handleDeny(ctx context.Context, req *sdk.CallToolRequest, input ProposalInput) (*sdk.CallToolResult, DecisionOutput, error) {
	if input.ID == "" {
		return nil, DecisionOutput{}, fmt.Errorf("id is required")
	}
	if !s.session.Deny(input.ID) {
		return nil, DecisionOutput{}, fmt.Errorf("proposal %q is not pending", input.ID)
	}
	return nil, s.decision(1), nil
}

func (s *Server) handleAcceptAll(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, DecisionOutput, error) {
	return nil, s.decision(s.session.AcceptAll()), nil
}

func (s *Server) handleDenyAll(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, DecisionOutput, error) {
	return nil, s.decision(s.session.DenyAll()), nil
}

func (s *Server) handleToggle(ctx context.Context, req *sdk.CallToolRequest, input ProposalInput) (*sdk.CallToolResult, ProposalOutput, error) {
	if !s.session.Toggle(input.ID) {
		return nil, ProposalOutput{}, fmt.Errorf("proposal %q is not pending", input.ID)
	}
	p, ok := s.session.Proposal(input.ID)
	if !ok {
		return nil, ProposalOutput{}, fmt.Errorf("proposal %q is not pending", input.ID)
	}
	return nil, proposalOutput(p), nil
}

func (s *Server) handleNarrative(ctx context.Context, req *sdk.CallToolRequest, input NarrativeInput) (*sdk.CallToolResult, NarrativeOutput, error) {
	n, err := s.session.HandleNarrative(ctx, extract.Event{
		Text:     input.Text,
		Continue: input.Continue,
		Previous: input.Previous,
	})
	if err != nil {
		if reason := dropReason(err); reason != "" {
			return nil, NarrativeOutput{Dropped: reason}, nil
		}
		return nil, NarrativeOutput{}, err
	}
	return nil, NarrativeOutput{Queued: n}, nil
}

func (s *Server) handleImport(ctx context.Context, req *sdk.CallToolRequest, input DocumentInput) (*sdk.CallToolResult, ProposalOutput, error) {
	if input.Filename == "" {
		return nil, ProposalOutput{}, fmt.Errorf("filename is required")
	}
	p, err := s.session.Import(ctx, input.Filename, []byte(input.Content))
	if err != nil {
		return nil, ProposalOutput{}, err
	}
	return nil, proposalOutput(*p), nil
}

func (s *Server) handleEdit(ctx context.Context, req *sdk.CallToolRequest, input DocumentInput) (*sdk.CallToolResult, StatusOutput, error) {
	if err := s.session.EditDocument(ctx, input.Filename, []byte(input.Content)); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, s.status(), nil
}

func (s *Server) handleInjection(ctx context.Context, req *sdk.CallToolRequest, input MessagesInput) (*sdk.CallToolResult, InjectionOutput, error) {
	inj := s.session.Injection(input.Messages)
	selected := make([]string, 0, len(inj.Selected))
	for _, sel := range inj.Selected {
		selected = append(selected, sel.Key)
	}
	return nil, InjectionOutput{World: inj.World, NPCs: inj.NPCs, Selected: selected}, nil
}

func (s *Server) handleSummary(ctx context.Context, req *sdk.CallToolRequest, input MessagesInput) (*sdk.CallToolResult, SummaryOutput, error) {
	return nil, SummaryOutput{Summary: s.session.Summary(input.Messages)}, nil
}

func (s *Server) handleSwitchContext(ctx context.Context, req *sdk.CallToolRequest, input SwitchContextInput) (*sdk.CallToolResult, StatusOutput, error) {
	if input.ContextID == "" {
		return nil, StatusOutput{}, fmt.Errorf("context_id is required")
	}
	if err := s.session.SwitchContext(ctx, input.ContextID); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, s.status(), nil
}

func (s *Server) handleLink(ctx context.Context, req *sdk.CallToolRequest, input LinkInput) (*sdk.CallToolResult, StatusOutput, error) {
	if input.StoreID == "" {
		return nil, StatusOutput{}, fmt.Errorf("store_id is required")
	}
	if err := s.session.Link(ctx, input.StoreID); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, s.status(), nil
}

func (s *Server) handleSync(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, StatusOutput, error) {
	if err := s.session.Sync(ctx); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, s.status(), nil
}

func (s *Server) handleCreateStore(ctx context.Context, req *sdk.CallToolRequest, input CreateStoreInput) (*sdk.CallToolResult, CreateStoreOutput, error) {
	id, err := s.session.CreateStore(ctx, input.Description)
	if err != nil {
		return nil, CreateStoreOutput{}, err
	}
	return nil, CreateStoreOutput{StoreID: id, Status: s.session.Status()}, nil
}

func proposalOutput(p proposal.Proposal) ProposalOutput {
	out := ProposalOutput{
		ID:          p.ID,
		Category:    string(p.Category),
		Target:      p.Target,
		Description: p.Description,
		OldValue:    p.OldValue,
		NewValue:    p.NewValue,
		Expanded:    p.Expanded,
	}
	if p.Expandable && p.Expanded {
		out.Preview = p.Preview
	}
	return out
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, extract.ErrInFlight):
		return "in_flight"
	case errors.Is(err, extract.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, extract.ErrEmpty):
		return "empty"
	case errors.Is(err, extract.ErrNotLoaded):
		return "not_loaded"
	}
	return ""
}
