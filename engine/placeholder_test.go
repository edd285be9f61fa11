package engine

import "testing"

func TestResolveBareFieldPath(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	got := Resolve("note: {{description}}", ctx, nil)
	if got != "note: Daily standup" {
		t.Errorf("Resolve() = %q, want %q", got, "note: Daily standup")
	}
}

func TestResolveTimeEntryRoot(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	got := Resolve("{{timeEntry.timeInterval.duration}}", ctx, nil)
	if got != "PT15M" {
		t.Errorf("Resolve() = %q, want %q", got, "PT15M")
	}
}

func TestResolveEntityFields(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	if got := Resolve("{{project.name}}", ctx, nil); got != "Internal" {
		t.Errorf("Resolve(project.name) = %q, want %q", got, "Internal")
	}
	if got := Resolve("{{project.id}}", ctx, nil); got != "proj-1" {
		t.Errorf("Resolve(project.id) = %q, want %q", got, "proj-1")
	}
	if got := Resolve("{{workspace.id}}", ctx, nil); got != "ws-1" {
		t.Errorf("Resolve(workspace.id) = %q, want %q", got, "ws-1")
	}
}

func TestResolveUsesNameSource(t *testing.T) {
	ctx := mustContext(t, `{"workspaceId": "ws-1", "userId": "user-1", "timeEntry": {"id": "te-1"}}`)
	names := stubNames{users: map[string]string{"user-1": "Ada"}}

	if got := Resolve("by {{user.name}}", ctx, names); got != "by Ada" {
		t.Errorf("Resolve(user.name) = %q, want %q", got, "by Ada")
	}
}

func TestResolveUnresolvedRendersEmpty(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	if got := Resolve("[{{no.such.thing}}]", ctx, nil); got != "[]" {
		t.Errorf("Resolve() for an unknown path = %q, want %q", got, "[]")
	}
}

func TestResolveLeavesPlainTextAlone(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	if got := Resolve("no tokens here", ctx, nil); got != "no tokens here" {
		t.Errorf("Resolve() = %q, want input unchanged", got)
	}
}

func TestResolveForPathEscapes(t *testing.T) {
	ctx := mustContext(t, `{"timeEntry": {"id": "te-1", "description": "a/b c"}}`)

	got := ResolveForPath("/workspaces/ws-1/entries/{{description}}", ctx, nil)
	want := "/workspaces/ws-1/entries/a%2Fb%20c"
	if got != want {
		t.Errorf("ResolveForPath() = %q, want %q", got, want)
	}
}

func TestResolveMultipleTokens(t *testing.T) {
	ctx := mustContext(t, samplePayload)

	got := Resolve("{{project.name}} / {{client.name}}", ctx, nil)
	if got != "Internal / Acme" {
		t.Errorf("Resolve() = %q, want %q", got, "Internal / Acme")
	}
}
