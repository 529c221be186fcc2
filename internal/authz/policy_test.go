package authz

import (
	"testing"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

func TestTicketPolicy(t *testing.T) {
	admin := &domain.User{ID: "admin-1", IsAdmin: true}
	requester := &domain.User{ID: "user-1"}
	assignee := &domain.User{ID: "user-2"}
	stranger := &domain.User{ID: "user-3"}

	assigneeID := assignee.ID
	open := &domain.Ticket{ID: "t-1", RequesterID: requester.ID, AssigneeID: &assigneeID, Status: domain.TicketStatusOpen}
	inProgress := &domain.Ticket{ID: "t-2", RequesterID: requester.ID, AssigneeID: &assigneeID, Status: domain.TicketStatusInProgress}

	policy := NewTicketPolicy()

	cases := []struct {
		name  string
		check func() bool
		want  bool
	}{
		{"view/admin", func() bool { return policy.CanView(admin, open) }, true},
		{"view/requester", func() bool { return policy.CanView(requester, open) }, true},
		{"view/assignee", func() bool { return policy.CanView(assignee, open) }, true},
		{"view/stranger", func() bool { return policy.CanView(stranger, open) }, false},
		{"view/anonymous", func() bool { return policy.CanView(nil, open) }, false},

		{"create/user", func() bool { return policy.CanCreate(requester) }, true},
		{"create/anonymous", func() bool { return policy.CanCreate(nil) }, false},

		{"update/requester-open", func() bool { return policy.CanUpdate(requester, open) }, true},
		{"update/assignee-open", func() bool { return policy.CanUpdate(assignee, open) }, true},
		{"update/stranger-open", func() bool { return policy.CanUpdate(stranger, open) }, false},
		{"update/requester-in-progress", func() bool { return policy.CanUpdate(requester, inProgress) }, false},
		{"update/admin-in-progress", func() bool { return policy.CanUpdate(admin, inProgress) }, false},

		{"delete/requester", func() bool { return policy.CanDelete(requester, open) }, true},
		{"delete/assignee", func() bool { return policy.CanDelete(assignee, open) }, false},
		{"delete/admin", func() bool { return policy.CanDelete(admin, open) }, true},

		{"restore/admin", func() bool { return policy.CanRestore(admin, open) }, true},
		{"restore/requester", func() bool { return policy.CanRestore(requester, open) }, false},

		{"status/admin", func() bool { return policy.CanChangeStatus(admin, open) }, true},
		{"status/requester", func() bool { return policy.CanChangeStatus(requester, open) }, false},
		{"status/assignee", func() bool { return policy.CanChangeStatus(assignee, open) }, false},
		{"status/anonymous", func() bool { return policy.CanChangeStatus(nil, open) }, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
