package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

// CompetencyNotifier tells the competency subsystem that a course module is gone.
type CompetencyNotifier interface {
	ModuleDeleted(ctx context.Context, ref *models.ModuleReference) (int64, error)
}

// EventPublisher emits the module deleted event to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.ModuleDeletedEvent) (int64, error)
}

// TaskExecutor runs a queued deletion task right away.
type TaskExecutor interface {
	Execute(ctx context.Context, task models.AdhocTask) error
}

type competencyLinkStore interface {
	DeleteCompetencyLinks(ctx context.Context, cmid int64) (int64, error)
}

// LinkCleanupNotifier drops the module's competency links, which is what the competency
// subsystem does when it hears of a deleted course module.
type LinkCleanupNotifier struct {
	store competencyLinkStore
}

// NewLinkCleanupNotifier constructs the default notifier.
func NewLinkCleanupNotifier(store competencyLinkStore) *LinkCleanupNotifier {
	return &LinkCleanupNotifier{store: store}
}

// ModuleDeleted implements CompetencyNotifier.
func (n *LinkCleanupNotifier) ModuleDeleted(ctx context.Context, ref *models.ModuleReference) (int64, error) {
	return n.store.DeleteCompetencyLinks(ctx, ref.CourseModuleID)
}

type logEntryWriter interface {
	InsertLogEntry(ctx context.Context, event models.ModuleDeletedEvent) (int64, error)
}

type messagePublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) (int64, error)
}

// LogstoreEventPublisher records the event in the standard log and fans it out over Redis.
type LogstoreEventPublisher struct {
	log     logEntryWriter
	bus     messagePublisher
	channel string
	logger  *zap.Logger
}

// NewLogstoreEventPublisher constructs the default publisher. bus may be nil.
func NewLogstoreEventPublisher(log logEntryWriter, bus messagePublisher, channel string, logger *zap.Logger) *LogstoreEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogstoreEventPublisher{log: log, bus: bus, channel: channel, logger: logger}
}

// Publish implements EventPublisher. It returns the number of sinks that accepted the event.
// A failed fan-out is logged; the log row is the record of truth.
func (p *LogstoreEventPublisher) Publish(ctx context.Context, event models.ModuleDeletedEvent) (int64, error) {
	if _, err := p.log.InsertLogEntry(ctx, event); err != nil {
		return 0, err
	}
	delivered := int64(1)
	if p.bus == nil || p.channel == "" {
		return delivered, nil
	}
	receivers, err := p.bus.Publish(ctx, p.channel, event)
	if err != nil {
		p.logger.Sugar().Warnw("module deleted event not broadcast", "cmid", event.CourseModuleID, "channel", p.channel, "error", err)
		return delivered, nil
	}
	if receivers > 0 {
		delivered++
	}
	return delivered, nil
}

type courseModuleChecker interface {
	CourseModuleExists(ctx context.Context, cmid int64) (bool, error)
}

// VerifyingExecutor stands in for the platform's own deletion task: the task counts as done
// once none of its course modules remain.
type VerifyingExecutor struct {
	modules courseModuleChecker
}

// NewVerifyingExecutor constructs the default executor.
func NewVerifyingExecutor(modules courseModuleChecker) *VerifyingExecutor {
	return &VerifyingExecutor{modules: modules}
}

// Execute implements TaskExecutor.
func (e *VerifyingExecutor) Execute(ctx context.Context, task models.AdhocTask) error {
	payload, err := models.ParseDeletionPayload(task.CustomData.String)
	if err != nil {
		return err
	}
	var remaining []string
	for _, entry := range payload.Modules {
		if !entry.ID.Valid {
			continue
		}
		exists, err := e.modules.CourseModuleExists(ctx, entry.ID.Value)
		if err != nil {
			return err
		}
		if exists {
			remaining = append(remaining, models.FormatID(entry.ID.Value))
		}
	}
	if len(remaining) > 0 {
		return fmt.Errorf("course modules still present: %s", strings.Join(remaining, ","))
	}
	return nil
}
