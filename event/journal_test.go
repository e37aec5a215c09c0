package event

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournalReplayOut(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	for _, action := range []string{ActionMessageCreated, ActionFriendRequested} {
		if err := j.Out(Record{Service: "realtalk.events", Action: action, Data: "{}"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.In(Record{Service: "api", Action: "ignored"}); err != nil {
		t.Fatal(err)
	}

	var got []string
	err = j.ReplayOut(func(rec Record) error {
		got = append(got, rec.Action)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != ActionMessageCreated || got[1] != ActionFriendRequested {
		t.Errorf("replayed %v, want [%s %s]", got, ActionMessageCreated, ActionFriendRequested)
	}
}

func TestJournalReplaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	f, err := os.OpenFile(filepath.Join(dir, OutLogFile), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()
	if err := j.Out(Record{Action: ActionFriendAccepted}); err != nil {
		t.Fatal(err)
	}

	count := 0
	if err := j.ReplayOut(func(Record) error { count++; return nil }); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("replayed %d records, want 1", count)
	}
}
