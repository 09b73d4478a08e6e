// Package access decides which documents a caller may search.
// It is the single authority for knowledge-base visibility; nothing else reads shares or ownership.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUnauthenticated     Reason = "unauthenticated"
	ReasonNotFound            Reason = "knowledge_base_not_found"
	ReasonEmbeddingNotAllowed Reason = "embedding_not_allowed"
	ReasonNotOwner            Reason = "not_owner"
)

type Decision struct {
	Allowed       bool
	DocumentIds   []string
	Reason        Reason
	KnowledgeBase *commonModels.KnowledgeBase
}

// Repository is the slice of the relational store the gate reads.
type Repository interface {
	GetKnowledgeBase(ctx context.Context, id string) (commonModels.KnowledgeBase, error)
	HasShare(ctx context.Context, knowledgeBaseId string, email string) (bool, error)
	ListOwnerStandaloneDocumentIDs(ctx context.Context, ownerId string) ([]string, error)
}

type Gate struct {
	repo   Repository
	logger *logger_i.Logger
}

func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo, logger: logger_i.NewLogger("access")}
}

// ResolveAccess returns the document set the caller may search for this request.
// A denial comes back with the matching sentinel error so handlers can map it to a status.
func (g *Gate) ResolveAccess(ctx context.Context, caller commonModels.Caller, knowledgeBaseId string, mode chatModel.RequestMode) (Decision, error) {
	log := g.logger.WithTrace(ctx).With("mode", mode.String(), "kb", knowledgeBaseId)
	knowledgeBaseId = strings.TrimSpace(knowledgeBaseId)

	if mode == chatModel.ModeEmbed {
		return g.resolveEmbed(ctx, knowledgeBaseId, log)
	}

	if caller.IsAnonymous() {
		return g.deny(log, ReasonUnauthenticated, nil, commonModels.ErrUnauthorized)
	}

	if knowledgeBaseId == "" {
		if mode == chatModel.ModeKnowledgeBase {
			return g.deny(log, ReasonNotFound, nil, commonModels.ErrKnowledgeBaseNotFound)
		}
		return g.ownDocuments(ctx, caller, nil)
	}

	kb, err := g.repo.GetKnowledgeBase(ctx, knowledgeBaseId)
	if errors.Is(err, commonModels.ErrKnowledgeBaseNotFound) {
		if mode == chatModel.ModeKnowledgeBase {
			return g.deny(log, ReasonNotFound, nil, err)
		}
		// plain chat tolerates a stale kb id
		return g.ownDocuments(ctx, caller, nil)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load knowledge base: %w", err)
	}

	if mode == chatModel.ModeChat {
		return g.ownDocuments(ctx, caller, &kb)
	}

	if kb.IsPublic || kb.OwnerId == caller.UserId {
		return Decision{Allowed: true, DocumentIds: kb.DocumentIds, KnowledgeBase: &kb}, nil
	}

	shared, err := g.repo.HasShare(ctx, kb.Id, caller.Email)
	if err != nil {
		return Decision{}, fmt.Errorf("share lookup: %w", err)
	}
	if shared {
		return Decision{Allowed: true, DocumentIds: kb.DocumentIds, KnowledgeBase: &kb}, nil
	}

	// no share: the caller only ever sees their own standalone documents
	log.Debug("private knowledge base without share, falling back to own documents", "caller", caller.UserId)
	metrics.CaptureAccessDenial(string(ReasonNotOwner))
	return g.ownDocuments(ctx, caller, nil)
}

func (g *Gate) resolveEmbed(ctx context.Context, knowledgeBaseId string, log *logger_i.Logger) (Decision, error) {
	if knowledgeBaseId == "" {
		return g.deny(log, ReasonNotFound, nil, commonModels.ErrKnowledgeBaseNotFound)
	}
	kb, err := g.repo.GetKnowledgeBase(ctx, knowledgeBaseId)
	if errors.Is(err, commonModels.ErrKnowledgeBaseNotFound) {
		return g.deny(log, ReasonNotFound, nil, err)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load knowledge base: %w", err)
	}
	if !kb.IsPublic && !kb.AllowEmbedding {
		return g.deny(log, ReasonEmbeddingNotAllowed, &kb, commonModels.ErrEmbeddingNotAllowed)
	}
	return Decision{Allowed: true, DocumentIds: kb.DocumentIds, KnowledgeBase: &kb}, nil
}

func (g *Gate) ownDocuments(ctx context.Context, caller commonModels.Caller, kb *commonModels.KnowledgeBase) (Decision, error) {
	ids, err := g.repo.ListOwnerStandaloneDocumentIDs(ctx, caller.UserId)
	if err != nil {
		return Decision{}, fmt.Errorf("list own documents: %w", err)
	}
	return Decision{Allowed: true, DocumentIds: ids, KnowledgeBase: kb}, nil
}

func (g *Gate) deny(log *logger_i.Logger, reason Reason, kb *commonModels.KnowledgeBase, err error) (Decision, error) {
	log.Info("access denied", "reason", reason)
	metrics.CaptureAccessDenial(string(reason))
	return Decision{Allowed: false, Reason: reason, KnowledgeBase: kb}, err
}

// RequireOwner loads the knowledge base and fails unless the caller owns it.
func (g *Gate) RequireOwner(ctx context.Context, caller commonModels.Caller, knowledgeBaseId string) (commonModels.KnowledgeBase, error) {
	if caller.IsAnonymous() {
		return commonModels.KnowledgeBase{}, commonModels.ErrUnauthorized
	}
	kb, err := g.repo.GetKnowledgeBase(ctx, knowledgeBaseId)
	if err != nil {
		return commonModels.KnowledgeBase{}, err
	}
	if kb.OwnerId != caller.UserId {
		metrics.CaptureAccessDenial(string(ReasonNotOwner))
		return commonModels.KnowledgeBase{}, commonModels.ErrForbidden
	}
	return kb, nil
}
