package gitrepo

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	initial := Content{
		Title: "Meeting notes",
		Doc:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"First draft"}]}]}`),
	}
	if err := svc.EnsureDocumentRepo("doc_1", initial, "Alice"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc_1", initial, "Alice"); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	head, headCommit, err := svc.GetHeadContent("doc_1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if head.Title != "Meeting notes" {
		t.Fatalf("head title = %q, want %q", head.Title, "Meeting notes")
	}
	if headCommit.Author != "Alice" {
		t.Fatalf("head author = %q, want Alice", headCommit.Author)
	}
	if len(headCommit.Hash) != 7 {
		t.Fatalf("commit hash %q should be shortened to 7 chars", headCommit.Hash)
	}

	second := Content{
		Title: "Meeting notes",
		Doc:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Second draft"}]}]}`),
	}
	if !HasChanges(head, second) {
		t.Fatal("HasChanges() = false for differing docs")
	}
	secondCommit, err := svc.CommitContent("doc_1", second, "Bob", "Autosave")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if secondCommit.Author != "Bob" {
		t.Fatalf("second commit author = %q, want Bob", secondCommit.Author)
	}

	history, err := svc.History("doc_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != secondCommit.Hash {
		t.Fatalf("newest history entry = %s, want %s", history[0].Hash, secondCommit.Hash)
	}

	atFirst, err := svc.GetContentByHash("doc_1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if !strings.Contains(string(atFirst.Doc), "First draft") {
		t.Fatalf("content at first revision = %s, want the original text", atFirst.Doc)
	}

	restored, restoreCommit, err := svc.Restore("doc_1", history[1].Hash, "Alice")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !strings.Contains(string(restored.Doc), "First draft") {
		t.Fatalf("restored content = %s, want the original text", restored.Doc)
	}
	if !strings.Contains(restoreCommit.Message, "Restore revision") {
		t.Fatalf("restore commit message = %q, want a restore marker", restoreCommit.Message)
	}

	afterRestore, err := svc.History("doc_1", 10)
	if err != nil {
		t.Fatalf("History() after restore error = %v", err)
	}
	if len(afterRestore) != 3 {
		t.Fatalf("history length after restore = %d, want 3 (restore appends, never rewrites)", len(afterRestore))
	}

	head, _, err = svc.GetHeadContent("doc_1")
	if err != nil {
		t.Fatalf("GetHeadContent() after restore error = %v", err)
	}
	if !strings.Contains(string(head.Doc), "First draft") {
		t.Fatalf("head after restore = %s, want the restored text", head.Doc)
	}
}

func TestFullDocRoundTripPreservesStructure(t *testing.T) {
	svc := New(t.TempDir())

	doc := json.RawMessage(`{
		"type": "doc",
		"content": [
			{"type": "heading", "attrs": {"level": 1}, "content": [{"type": "text", "text": "Chapter One"}]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "It was a "},
				{"type": "text", "marks": [{"type": "bold"}], "text": "dark"},
				{"type": "text", "text": " and stormy night."}
			]},
			{"type": "bulletList", "content": [
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "wind"}]}]},
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "rain"}]}]}
			]}
		]
	}`)
	content := Content{Title: "Novel", Doc: doc}

	if err := svc.EnsureDocumentRepo("doc_roundtrip", content, "Writer"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	head, _, err := svc.GetHeadContent("doc_roundtrip")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}

	var got, want any
	if err := json.Unmarshal(head.Doc, &got); err != nil {
		t.Fatalf("unmarshal stored doc: %v", err)
	}
	if err := json.Unmarshal(doc, &want); err != nil {
		t.Fatalf("unmarshal source doc: %v", err)
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("round trip changed the doc:\ngot  %s\nwant %s", gotJSON, wantJSON)
	}

	if HasChanges(head, content) {
		t.Fatal("HasChanges() = true for an identical doc after round trip")
	}
}

func TestConcurrentCommitsSameDocument(t *testing.T) {
	svc := New(t.TempDir())

	initial := Content{Title: "Shared doc", Doc: json.RawMessage(`{"type":"doc","content":[]}`)}
	if err := svc.EnsureDocumentRepo("doc_concurrent", initial, "Owner"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := Content{
				Title: "Shared doc",
				Doc:   json.RawMessage(fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"edit %d"}]}]}`, n)),
			}
			if _, err := svc.CommitContent("doc_concurrent", content, fmt.Sprintf("writer-%d", n), "Autosave"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent CommitContent() error = %v", err)
	}

	history, err := svc.History("doc_concurrent", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("history length = %d, want %d", len(history), writers+1)
	}
}
