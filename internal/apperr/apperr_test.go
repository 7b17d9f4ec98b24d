package apperr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
)

func TestDetailedErrorMatchesSentinel(t *testing.T) {
	err := NotAMember("user %s is not in channel %s", "u1", "c1")
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected %v to match ErrNotAMember", err)
	}
	if errors.Is(err, ErrForbiddenOperation) {
		t.Fatalf("not-a-member must not match forbidden")
	}
	if got := err.Error(); got != "user u1 is not in channel c1" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := errors.Wrap(Forbidden("admin cannot leave"), "leave channel")
	if KindOf(err) != KindForbidden {
		t.Fatalf("kind = %v, want forbidden", KindOf(err))
	}
	if HTTPStatus(err) != http.StatusForbidden {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
	if Message(err) != "admin cannot leave" {
		t.Fatalf("message = %q", Message(err))
	}
}

func TestInternalIsHidden(t *testing.T) {
	err := Internal(errors.New("connection refused"), "insert message")
	if KindOf(err) != KindInternal {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if Message(err) != ErrInternal.Msg {
		t.Fatalf("internal details leaked: %q", Message(err))
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
	if Internal(nil, "noop") != nil {
		t.Fatal("Internal(nil) must be nil")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{InvalidMember("x"), http.StatusBadRequest},
		{NotAMember("x"), http.StatusBadRequest},
		{NotFound("channel"), http.StatusNotFound},
		{AlreadyInState("voted"), http.StatusConflict},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("%v: status %d, want %d", c.err, got, c.want)
		}
	}
}
