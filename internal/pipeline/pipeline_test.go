package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/gitoteko/internal/provider"
)

type stubAction struct {
	name    string
	success bool
	execute func(rc *RepoContext) ActionResult
}

func (a *stubAction) Name() string { return a.name }

func (a *stubAction) Execute(_ context.Context, rc *RepoContext) ActionResult {
	if a.execute != nil {
		return a.execute(rc)
	}
	return ActionResult{ActionName: a.name, Success: a.success}
}

func testContext() *RepoContext {
	return NewRepoContext("ws", provider.Repository{Name: "Repo", Slug: "repo"}, "/tmp/repo")
}

func TestRun_ExecutesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) *stubAction {
		return &stubAction{name: name, execute: func(rc *RepoContext) ActionResult {
			order = append(order, name)
			return ActionResult{ActionName: name, Success: true}
		}}
	}

	p := New(mk("first"), mk("second"), mk("third"))
	results := p.Run(context.Background(), testContext(), false)

	require.Equal(t, []string{"first", "second", "third"}, order)
	require.Len(t, results, 3)
}

func TestRun_FailFastStopsAfterFailure(t *testing.T) {
	executed := 0
	failing := &stubAction{name: "boom", execute: func(rc *RepoContext) ActionResult {
		executed++
		return ActionResult{ActionName: "boom", Success: false}
	}}
	never := &stubAction{name: "never", execute: func(rc *RepoContext) ActionResult {
		t.Fatal("action after a failure must not run with fail fast")
		return ActionResult{}
	}}

	results := New(failing, never).Run(context.Background(), testContext(), true)
	require.Len(t, results, 1)
	require.Equal(t, 1, executed)
}

func TestRun_WithoutFailFastContinues(t *testing.T) {
	results := New(
		&stubAction{name: "boom", success: false},
		&stubAction{name: "after", success: true},
	).Run(context.Background(), testContext(), false)

	require.Len(t, results, 2)
	require.False(t, results[0].Success)
	require.True(t, results[1].Success)
}

func TestRun_FillsBlankActionName(t *testing.T) {
	anon := &stubAction{name: "named", execute: func(rc *RepoContext) ActionResult {
		return ActionResult{Success: true}
	}}

	results := New(anon).Run(context.Background(), testContext(), false)
	require.Equal(t, "named", results[0].ActionName)
}

func TestRun_SharesContextAcrossActions(t *testing.T) {
	writer := &stubAction{name: "writer", execute: func(rc *RepoContext) ActionResult {
		rc.Metadata["key"] = "value"
		rc.DetectedExtensions[".go"] = struct{}{}
		return ActionResult{Success: true}
	}}
	var sawValue any
	var sawExts []string
	reader := &stubAction{name: "reader", execute: func(rc *RepoContext) ActionResult {
		sawValue = rc.Metadata["key"]
		sawExts = rc.SortedExtensions()
		return ActionResult{Success: true}
	}}

	New(writer, reader).Run(context.Background(), testContext(), false)
	require.Equal(t, "value", sawValue)
	require.Equal(t, []string{".go"}, sawExts)
}

func TestActionNames(t *testing.T) {
	p := New(&stubAction{name: "a"}, &stubAction{name: "b"})
	require.Equal(t, []string{"a", "b"}, p.ActionNames())
	require.Equal(t, 2, p.Len())
}

func TestSortedExtensions(t *testing.T) {
	rc := testContext()
	rc.DetectedExtensions[".ts"] = struct{}{}
	rc.DetectedExtensions[".java"] = struct{}{}
	rc.DetectedExtensions[".py"] = struct{}{}

	require.Equal(t, []string{".java", ".py", ".ts"}, rc.SortedExtensions())
}
