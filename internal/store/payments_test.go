package store

import (
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

func TestPaymentsFor(t *testing.T) {
	b := &Booking{ID: uuid.New(), ServiceID: uuid.New(), ProviderID: uuid.New(), ClientID: uuid.New(), Price: 100}

	tests := []struct {
		name      string
		payouts   settlement.Payouts
		wantRoles []PaymentRole
	}{
		{"four-way split", settlement.Payouts{Mentor: 70, Mentee: 25, Agent: 2.5, Platform: 2.5}, []PaymentRole{RoleMentor, RoleMentee, RoleAgent, RolePlatform}},
		{"full refund", settlement.Payouts{Mentee: 100}, []PaymentRole{RoleMentee}},
		{"no refund", settlement.Payouts{Mentor: 100}, []PaymentRole{RoleMentor}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PaymentsFor(b, tt.payouts)
			if len(got) != len(tt.wantRoles) {
				t.Fatalf("expected %d payments, got %d", len(tt.wantRoles), len(got))
			}
			for i, p := range got {
				if p.Role != tt.wantRoles[i] {
					t.Errorf("payment %d role = %s, want %s", i, p.Role, tt.wantRoles[i])
				}
				if p.BookingID != b.ID || p.ServiceID != b.ServiceID {
					t.Errorf("payment %d not linked to booking", i)
				}
				switch p.Role {
				case RoleMentor:
					if p.RecipientID == nil || *p.RecipientID != b.ProviderID {
						t.Error("mentor payment should go to the provider")
					}
				case RoleMentee:
					if p.RecipientID == nil || *p.RecipientID != b.ClientID {
						t.Error("mentee payment should go to the client")
					}
				default:
					if p.RecipientID != nil {
						t.Errorf("%s payment should have no recipient", p.Role)
					}
				}
			}
		})
	}
}
