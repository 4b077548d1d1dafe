package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

// RoomRecord captures one room for persistence.
type RoomRecord struct {
	ID        schema.RoomID                 `json:"id"`
	Name      string                        `json:"name"`
	CreatedAt time.Time                     `json:"createdAt"`
	Owner     schema.UserID                 `json:"ownerUserId"`
	Members   []schema.UserID               `json:"members"`
	Banned    []schema.UserID               `json:"banned,omitempty"`
	Roles     map[schema.UserID]schema.Role `json:"roles,omitempty"`
}

type roomsFile struct {
	Version int          `json:"version"`
	Rooms   []RoomRecord `json:"rooms"`
}

// Store persists rooms and their message logs under a data directory.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("data_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// LoadRooms reads the rooms file. A missing file is not an error.
func (s *Store) LoadRooms() ([]RoomRecord, error) {
	path := s.roomsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("rooms load miss")
			}
			return nil, nil
		}
		if s.log != nil {
			s.log.Warn("rooms load failed", "err", err)
		}
		return nil, err
	}
	var file roomsFile
	if err := json.Unmarshal(data, &file); err != nil {
		if s.log != nil {
			s.log.Warn("rooms load failed", "err", err)
		}
		return nil, err
	}
	if s.log != nil {
		s.log.Debug("rooms load ok", "rooms", len(file.Rooms))
	}
	return file.Rooms, nil
}

// SaveRooms rewrites the whole rooms file atomically.
func (s *Store) SaveRooms(records []RoomRecord) error {
	payload := roomsFile{Version: 1, Rooms: records}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.roomsPath(), data); err != nil {
		if s.log != nil {
			s.log.Warn("rooms save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("rooms save ok", "rooms", len(records))
	}
	return nil
}

// AppendMessage appends one message record to the room's log.
func (s *Store) AppendMessage(roomID schema.RoomID, message schema.ChatMessage) error {
	path := s.messagesPath(roomID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		if s.log != nil {
			s.log.Warn("message append failed", "room", roomID, "err", err)
		}
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		if s.log != nil {
			s.log.Warn("message append failed", "room", roomID, "err", err)
		}
		return err
	}
	return nil
}

// ReadMessageTail returns up to limit most recent messages, oldest first.
// Blank and corrupt lines are skipped.
func (s *Store) ReadMessageTail(roomID schema.RoomID, limit int) ([]schema.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	path := s.messagesPath(roomID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		lines = append(lines, text)
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	out := make([]schema.ChatMessage, 0, len(lines))
	for _, line := range lines {
		var msg schema.ChatMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			if s.log != nil {
				s.log.Debug("message record skipped", "room", roomID, "err", err)
			}
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// RemoveMessages deletes a room's message log, if any.
func (s *Store) RemoveMessages(roomID schema.RoomID) error {
	err := os.RemoveAll(filepath.Dir(s.messagesPath(roomID)))
	if err != nil && s.log != nil {
		s.log.Warn("message log remove failed", "room", roomID, "err", err)
	}
	return err
}

func (s *Store) roomsPath() string {
	return filepath.Join(s.dir, "rooms.json")
}

func (s *Store) messagesPath(roomID schema.RoomID) string {
	name := sanitize(string(roomID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, "rooms", name, "messages.jsonl")
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "rooms-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
