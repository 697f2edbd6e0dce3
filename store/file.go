package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps session state as JSON files on disk.
// Each client identifier gets its own directory:
//
//	baseDir/
//	  clientID/
//	    outbound-00001.json
//	    inbound-00007.json
//	    subscriptions.json
//
// All operations are synchronous.
type FileStore struct {
	dir  string
	perm os.FileMode
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithPermissions sets the file permissions for stored files.
// Default is 0600.
func WithPermissions(perm os.FileMode) FileStoreOption {
	return func(f *FileStore) {
		f.perm = perm
	}
}

// NewFileStore creates a file-based store for clientID under baseDir.
func NewFileStore(baseDir, clientID string, opts ...FileStoreOption) (*FileStore, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	if strings.Contains(clientID, "..") || strings.ContainsAny(clientID, `/\`) {
		return nil, fmt.Errorf("clientID %q contains invalid characters", clientID)
	}

	f := &FileStore{dir: filepath.Join(baseDir, clientID), perm: 0600}
	for _, opt := range opts {
		opt(f)
	}
	if err := os.MkdirAll(f.dir, f.perm|0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return f, nil
}

// Dir returns the directory holding this client's files.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) exchangePath(dir Direction, id uint16) string {
	return filepath.Join(f.dir, key(dir, id)+".json")
}

func (f *FileStore) SaveExchange(e *Exchange) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling exchange: %w", err)
	}
	if err := f.writeFile(f.exchangePath(e.Direction, e.PacketID), data); err != nil {
		return fmt.Errorf("writing exchange: %w", err)
	}
	return nil
}

func (f *FileStore) DeleteExchange(dir Direction, packetID uint16) error {
	err := os.Remove(f.exchangePath(dir, packetID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting exchange: %w", err)
	}
	return nil
}

func (f *FileStore) LoadExchanges() ([]*Exchange, error) {
	var out []*Exchange
	for _, prefix := range []string{Outbound.String(), Inbound.String()} {
		files, err := filepath.Glob(filepath.Join(f.dir, prefix+"-*.json"))
		if err != nil {
			return nil, fmt.Errorf("listing exchanges: %w", err)
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("reading exchange: %w", err)
			}
			var e Exchange
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", filepath.Base(file), err)
			}
			out = append(out, &e)
		}
	}
	sortExchanges(out)
	return out, nil
}

func (f *FileStore) subscriptionsPath() string {
	return filepath.Join(f.dir, "subscriptions.json")
}

func (f *FileStore) SaveSubscription(s *Subscription) error {
	subs, err := f.readSubscriptions()
	if err != nil {
		return err
	}
	subs[s.Filter] = s
	return f.writeSubscriptions(subs)
}

func (f *FileStore) DeleteSubscription(filter string) error {
	subs, err := f.readSubscriptions()
	if err != nil {
		return err
	}
	if _, ok := subs[filter]; !ok {
		return nil
	}
	delete(subs, filter)
	return f.writeSubscriptions(subs)
}

func (f *FileStore) LoadSubscriptions() ([]*Subscription, error) {
	subs, err := f.readSubscriptions()
	if err != nil {
		return nil, err
	}
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	sortSubscriptions(out)
	return out, nil
}

func (f *FileStore) readSubscriptions() (map[string]*Subscription, error) {
	data, err := os.ReadFile(f.subscriptionsPath())
	if os.IsNotExist(err) {
		return make(map[string]*Subscription), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading subscriptions: %w", err)
	}
	subs := make(map[string]*Subscription)
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("decoding subscriptions: %w", err)
	}
	return subs, nil
}

func (f *FileStore) writeSubscriptions(subs map[string]*Subscription) error {
	if len(subs) == 0 {
		err := os.Remove(f.subscriptionsPath())
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting subscriptions: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("marshaling subscriptions: %w", err)
	}
	if err := f.writeFile(f.subscriptionsPath(), data); err != nil {
		return fmt.Errorf("writing subscriptions: %w", err)
	}
	return nil
}

// writeFile replaces path atomically.
func (f *FileStore) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, f.perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clear removes all session files.
func (f *FileStore) Clear() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("reading store directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing store: %w", err)
		}
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
