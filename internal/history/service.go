package history

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/alarmcast-go/internal/config"
)

// Default configuration values
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000

	recordQueueSize = 64
)

// Service provides the playback history log. It records orchestrator
// lifecycle events and implements the orchestrator's Notifier and
// Recorder interfaces, so host bookkeeping notifications land in the
// same log.
type Service struct {
	cfg           config.Config
	logger        *log.Logger
	repo          *Repository
	retentionDays int
	pruneSchedule cron.Schedule
	recordCh      chan WriteEventInput
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewService creates a new history service. The prune schedule is a
// standard five-field cron expression from configuration.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.HistoryPruneSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid history prune schedule %q: %w", cfg.HistoryPruneSchedule, err)
	}

	s := &Service{
		cfg:           cfg,
		logger:        logger,
		repo:          NewRepository(dbPair),
		retentionDays: cfg.HistoryRetentionDays,
		pruneSchedule: schedule,
		recordCh:      make(chan WriteEventInput, recordQueueSize),
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runRecordLoop()
	return s, nil
}

// RecordEvent writes a new playback event.
func (s *Service) RecordEvent(input WriteEventInput) (*Event, error) {
	if input.Level == nil {
		level := EventLevelInfo
		input.Level = &level
	}

	event, err := s.repo.InsertEvent(input)
	if err != nil {
		return nil, fmt.Errorf("failed to record playback event: %w", err)
	}
	return event, nil
}

// QueryEvents retrieves events with filters and pagination.
// Clamps limit to MaxQueryLimit.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(filters EventQueryFilters) ([]Event, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(filters)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to query playback events: %w", err)
	}

	hasMore := filters.Offset+len(events) < total
	return events, total, hasMore, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(eventID string) (*Event, error) {
	event, err := s.repo.GetEvent(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playback event: %w", err)
	}
	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	return event, nil
}

// AlarmStarted implements the orchestrator's bookkeeping notification.
func (s *Service) AlarmStarted(alarmID string) error {
	_, err := s.RecordEvent(WriteEventInput{
		Type:    EventAlarmStarted,
		AlarmID: &alarmID,
		Message: "Alarm started",
	})
	return err
}

// AlarmStopped implements the orchestrator's bookkeeping notification.
func (s *Service) AlarmStopped(alarmID string) error {
	_, err := s.RecordEvent(WriteEventInput{
		Type:    EventAlarmStopped,
		AlarmID: &alarmID,
		Message: "Alarm stopped",
	})
	return err
}

// PlaybackEvent implements the orchestrator's event recorder.
// Fire-and-forget: the event is queued for the record loop so callers
// on the coordination loop never wait on a SQLite write. Failures are
// logged, never surfaced; a full queue drops the event.
func (s *Service) PlaybackEvent(eventType, level, alarmID, deviceID, message string, payload map[string]any) {
	input := WriteEventInput{
		Type:    eventType,
		Message: message,
		Payload: payload,
	}
	eventLevel := EventLevel(level)
	if eventLevel == "" {
		eventLevel = EventLevelInfo
	}
	input.Level = &eventLevel
	if alarmID != "" {
		input.AlarmID = &alarmID
	}
	if deviceID != "" {
		input.DeviceID = &deviceID
	}

	select {
	case s.recordCh <- input:
	default:
		s.logger.Printf("[WARN] History record queue full, dropping playback event %s", eventType)
	}
}

// runRecordLoop serializes queued playback events into the repository.
// On shutdown it flushes whatever is already queued.
func (s *Service) runRecordLoop() {
	defer s.wg.Done()

	write := func(input WriteEventInput) {
		if _, err := s.RecordEvent(input); err != nil {
			s.logger.Printf("[WARN] Failed to record playback event %s: %v", input.Type, err)
		}
	}

	for {
		select {
		case input := <-s.recordCh:
			write(input)
		case <-s.stopCh:
			for {
				select {
				case input := <-s.recordCh:
					write(input)
				default:
					return
				}
			}
		}
	}
}

// StartPruneJob starts the background retention job. It prunes once on
// start, then at the configured cron schedule.
func (s *Service) StartPruneJob() {
	s.logger.Printf("[INFO] Starting history prune job (schedule: %q, retention: %d days)",
		s.cfg.HistoryPruneSchedule, s.retentionDays)

	s.wg.Add(1)
	go s.runPruneLoop()
}

// StopPruneJob stops the background retention job and the record loop,
// flushing any queued playback events first.
func (s *Service) StopPruneJob() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Printf("[INFO] History prune job stopped")
}

func (s *Service) runPruneLoop() {
	defer s.wg.Done()

	if count, err := s.Prune(); err != nil {
		s.logger.Printf("[WARN] Error pruning playback events on start: %v", err)
	} else if count > 0 {
		s.logger.Printf("[INFO] Pruned %d playback events on startup", count)
	}

	for {
		next := s.pruneSchedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if count, err := s.Prune(); err != nil {
				s.logger.Printf("[WARN] Error pruning playback events: %v", err)
			} else if count > 0 {
				s.logger.Printf("[INFO] Pruned %d playback events", count)
			}
		}
	}
}

// Prune manually triggers pruning, returns count deleted.
func (s *Service) Prune() (int64, error) {
	return s.repo.PruneOldEvents(s.retentionDays)
}

// EventNotFoundError is returned when a playback event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("playback event not found: %s", e.EventID)
}
