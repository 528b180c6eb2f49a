package settings

import (
	"database/sql"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/strefethen/alarmcast-go/internal/castproto"
)

// Setting keys. The settings table is the only durable state the
// playback core depends on: the last used cast device and the last set
// volume survive process restarts.
const (
	keyLastDeviceID   = "cast.last_device_id"
	keyLastDeviceName = "cast.last_device_name"
	keyVolume         = "playback.volume"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides settings management functionality.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Service struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE/DELETE
	logger *log.Logger
}

// NewService creates a new settings service.
func NewService(dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		reader: dbPair.Reader(),
		writer: dbPair.Writer(),
		logger: logger,
	}
}

// LastDevice returns the persisted last-used cast device, if any.
func (s *Service) LastDevice() (castproto.Device, bool, error) {
	id, ok, err := s.get(keyLastDeviceID)
	if err != nil || !ok || id == "" {
		return castproto.Device{}, false, err
	}
	name, _, err := s.get(keyLastDeviceName)
	if err != nil {
		return castproto.Device{}, false, err
	}
	return castproto.Device{ID: id, Name: name}, true, nil
}

// SetLastDevice persists the device as the last used cast target.
func (s *Service) SetLastDevice(device castproto.Device) error {
	if err := s.set(keyLastDeviceID, device.ID); err != nil {
		return err
	}
	return s.set(keyLastDeviceName, device.Name)
}

// Volume returns the persisted playback volume, if one has been set.
func (s *Service) Volume() (float64, bool, error) {
	raw, ok, err := s.get(keyVolume)
	if err != nil || !ok {
		return 0, false, err
	}
	volume, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Printf("[WARN] Ignoring malformed persisted volume %q", raw)
		return 0, false, nil
	}
	return volume, true, nil
}

// SetVolume persists the playback volume.
func (s *Service) SetVolume(volume float64) error {
	return s.set(keyVolume, strconv.FormatFloat(volume, 'f', -1, 64))
}

func (s *Service) get(key string) (string, bool, error) {
	var value string
	err := s.reader.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Service) set(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	return err
}
