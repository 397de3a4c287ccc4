// Package codehost provides the mock code-host used when no token is
// configured: every operation is recorded in memory and succeeds with
// synthetic identifiers, so the pipeline runs end-to-end offline.
package codehost

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Op is one recorded code-host operation.
type Op struct {
	Kind   string
	Repo   string
	Detail map[string]string
	At     time.Time
}

// Mock records code-host operations without talking to any remote.
type Mock struct {
	mu       sync.Mutex
	ops      []Op
	branches map[string]string // branch name → from ref
	files    map[string][]byte // repo/path → content
	commits  int
}

// NewMock creates an empty mock code host.
func NewMock() *Mock {
	return &Mock{
		branches: make(map[string]string),
		files:    make(map[string][]byte),
	}
}

func (m *Mock) record(kind, repo string, detail map[string]string) {
	m.ops = append(m.ops, Op{Kind: kind, Repo: repo, Detail: detail, At: time.Now().UTC()})
}

// GetFile returns previously committed content, or an error when the
// path was never seen.
func (m *Mock) GetFile(repo, path, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get_file", repo, map[string]string{"path": path, "ref": ref})
	data, ok := m.files[repo+"/"+path]
	if !ok {
		return nil, fmt.Errorf("mock code host: no such file %s in %s", path, repo)
	}
	return data, nil
}

// CreateBranch records a branch creation.
func (m *Mock) CreateBranch(repo, fromRef, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_branch", repo, map[string]string{"from": fromRef, "name": name})
	m.branches[name] = fromRef
	return nil
}

// Commit records files on a branch and returns a synthetic commit id.
func (m *Mock) Commit(repo, branch string, files map[string][]byte, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := sha1.New()
	fmt.Fprintf(h, "%s/%s/%s/%d", repo, branch, message, m.commits)
	for path, data := range files {
		m.files[repo+"/"+path] = data
		h.Write([]byte(path))
		h.Write(data)
	}
	m.commits++

	id := hex.EncodeToString(h.Sum(nil))[:12]
	m.record("commit", repo, map[string]string{"branch": branch, "message": message, "commit": id})
	return id, nil
}

// OpenPR records a pull request and returns a synthetic URL.
func (m *Mock) OpenPR(repo, head, base, title, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, op := range m.ops {
		if op.Kind == "open_pr" {
			n++
		}
	}
	url := fmt.Sprintf("https://mock.codehost.local/%s/pull/%d", repo, n+1)
	m.record("open_pr", repo, map[string]string{"head": head, "base": base, "title": title, "url": url})
	return url, nil
}

// Ops returns a copy of the recorded operation log.
func (m *Mock) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}
