package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	InLogFile  string = "in.log"
	OutLogFile string = "out.log"
)

// Record is one line of the event journal.
type Record struct {
	Time    int64  `json:"time"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

// Journal appends inbound and outbound events as JSON lines.
type Journal struct {
	mu      sync.Mutex
	dir     string
	in, out *os.File
}

func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	in, err := os.OpenFile(filepath.Join(dir, InLogFile), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	out, err := os.OpenFile(filepath.Join(dir, OutLogFile), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	return &Journal{dir: dir, in: in, out: out}, nil
}

func (j *Journal) In(rec Record) error  { return j.write(j.in, rec) }
func (j *Journal) Out(rec Record) error { return j.write(j.out, rec) }

func (j *Journal) write(f *os.File, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = f.Write(append(line, '\n'))
	return err
}

// ReplayOut calls fn for each outbound record in journal order. Malformed
// lines are skipped.
func (j *Journal) ReplayOut(fn func(Record) error) error {
	f, err := os.Open(filepath.Join(j.dir, OutLogFile))
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.in.Close()
	if cerr := j.out.Close(); err == nil {
		err = cerr
	}
	return err
}
