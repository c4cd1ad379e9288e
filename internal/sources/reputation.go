package sources

import (
	"context"
	"strconv"

	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
)

// SourceReputation names the cross-group reputation source.
const SourceReputation = "reputation"

// GlobalLists answers membership in the operator-curated allowlist and the
// synced spammer banlist.
type GlobalLists interface {
	IsAllowlisted(ctx context.Context, userID int64) (bool, error)
	IsBanlisted(ctx context.Context, userID int64) (bool, error)
}

// Reputation tracks a member across every protected group: global list
// membership, the same message landing in several groups, and moderation
// history elsewhere. Collect records the current sighting while it reads,
// so the counters never need a separate write pass.
type Reputation struct {
	catalog *signal.Catalog
	store   cache.Store
	lists   GlobalLists
}

func NewReputation(catalog *signal.Catalog, store cache.Store, lists GlobalLists) *Reputation {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	return &Reputation{catalog: catalog, store: store, lists: lists}
}

func (r *Reputation) Collect(ctx context.Context, req pipeline.Request) (signal.Set, error) {
	msg := &req.Message
	kind := req.Profile.Kind

	var out signal.Set
	emit := func(name string) { out = append(out, r.catalog.Make(kind, name)) }

	if r.lists != nil {
		allowed, err := r.lists.IsAllowlisted(ctx, msg.Sender.ID)
		if err != nil {
			return nil, err
		}
		if allowed {
			emit(signal.IsInGlobalWhitelist)
		}
		banned, err := r.lists.IsBanlisted(ctx, msg.Sender.ID)
		if err != nil {
			return nil, err
		}
		if banned {
			emit(signal.IsInGlobalBlocklist)
		}
	}

	if r.store == nil {
		return out, nil
	}

	chatMember := strconv.FormatInt(msg.ChatID, 10)

	if hash := HashMessage(msg.Text); hash != "" {
		seenIn, err := r.store.AddToSet(ctx, cache.KeyMessageGroups(hash), chatMember, cache.TTLMessageGroups)
		if err != nil {
			return out, err
		}
		switch {
		case seenIn >= 5:
			emit(signal.DuplicateIn5PlusGroups)
		case seenIn >= 3:
			emit(signal.DuplicateIn3Groups)
		case seenIn >= 2:
			emit(signal.DuplicateIn2Groups)
		}
	}

	activeIn, err := r.store.AddToSet(ctx, cache.KeyMemberGroups(msg.Sender.ID), chatMember, cache.TTLMemberGroups)
	if err != nil {
		return out, err
	}
	if activeIn >= 5 {
		emit(signal.GroupsInCommon5Plus)
	}

	bans, err := r.store.SetSize(ctx, cache.KeyBanHistory(msg.Sender.ID))
	if err != nil {
		return out, err
	}
	if bans > 0 {
		emit(signal.BlockedInOtherGroups)
	}

	flags, err := r.store.SetSize(ctx, cache.KeyFlagHistory(msg.Sender.ID))
	if err != nil {
		return out, err
	}
	if flags > 0 {
		emit(signal.FlaggedInOtherGroups)
	}

	return out, nil
}

// RecordBan marks a ban against the member's cross-group history.
func (r *Reputation) RecordBan(ctx context.Context, chatID, userID int64) error {
	if r.store == nil {
		return nil
	}
	_, err := r.store.AddToSet(ctx, cache.KeyBanHistory(userID), strconv.FormatInt(chatID, 10), cache.TTLBanHistory)
	return err
}

// RecordFlag marks a limit or review outcome against the member's
// cross-group history.
func (r *Reputation) RecordFlag(ctx context.Context, chatID, userID int64) error {
	if r.store == nil {
		return nil
	}
	_, err := r.store.AddToSet(ctx, cache.KeyFlagHistory(userID), strconv.FormatInt(chatID, 10), cache.TTLFlagHistory)
	return err
}
