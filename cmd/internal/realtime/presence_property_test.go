package realtime

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

const propertyUsers = 3

// decodeOp maps a generated op to a connect (even) or disconnect (odd) for user (op/2)%propertyUsers.
func decodeOp(op int) (user string, connect bool) {
	return fmt.Sprintf("u%d", (op/2)%propertyUsers), op%2 == 0
}

func presenceOps() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 2*propertyUsers-1))
}

func onlineIDs(users []OnlineUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out
}

func modelOnline(model map[string][]string) []string {
	var out []string
	for u, sessions := range model {
		if len(sessions) > 0 {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

func TestRegistry_PresenceTransitionsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("transitions match a per-user session counter", prop.ForAll(
		func(ops []int) bool {
			r := NewRegistry()
			model := make(map[string][]string)
			now := time.Now()

			for i, op := range ops {
				user, connect := decodeOp(op)
				if connect {
					sid := fmt.Sprintf("s%d", i)
					wasOffline := len(model[user]) == 0
					if r.RegisterSession(user, NewClient(sid, 1), DisplayMeta{}, now) != wasOffline {
						return false
					}
					model[user] = append(model[user], sid)
				} else {
					if len(model[user]) == 0 {
						if got, off := r.RemoveSession("missing"); got != "" || off {
							return false
						}
						continue
					}
					sid := model[user][0]
					model[user] = model[user][1:]
					got, off := r.RemoveSession(sid)
					if got != user || off != (len(model[user]) == 0) {
						return false
					}
				}

				if !slices.Equal(onlineIDs(r.ListOnlineUsers()), modelOnline(model)) {
					return false
				}
			}
			return true
		},
		presenceOps(),
	))

	properties.TestingRun(t)
}

func TestController_OneAnnouncementPerTransitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("observers see one user_online per 0->N and one user_offline per N->0", prop.ForAll(
		func(ops []int) bool {
			r := newTestRelay(t, nil)

			observer := r.ctrl.Open(NewClient("observer", 1024))
			r.identify(t, observer, "watcher")
			drain(observer)

			model := make(map[string][]*Session)
			wantOnline := make(map[string]int)
			wantOffline := make(map[string]int)
			gotOnline := make(map[string]int)
			gotOffline := make(map[string]int)

			for _, op := range ops {
				user, connect := decodeOp(op)
				if connect {
					if len(model[user]) == 0 {
						wantOnline[user]++
					}
					s := r.open(t)
					r.identify(t, s, user)
					drain(s)
					model[user] = append(model[user], s)
				} else if len(model[user]) > 0 {
					s := model[user][0]
					model[user] = model[user][1:]
					if len(model[user]) == 0 {
						wantOffline[user]++
					}
					r.ctrl.Close(s)
				}

				for _, env := range drain(observer) {
					switch env.Type {
					case v1.TypeUserOnline:
						gotOnline[decode[v1.UserOnlinePayload](t, env).UserID]++
					case v1.TypeUserOffline:
						gotOffline[decode[v1.UserOfflinePayload](t, env).UserID]++
					}
				}
			}

			for u := 0; u < propertyUsers; u++ {
				user := fmt.Sprintf("u%d", u)
				if gotOnline[user] != wantOnline[user] || gotOffline[user] != wantOffline[user] {
					return false
				}
			}

			want := append(modelOnlineSessions(model), "watcher")
			slices.Sort(want)
			return slices.Equal(onlineIDs(r.ctrl.Registry().ListOnlineUsers()), want)
		},
		presenceOps(),
	))

	properties.TestingRun(t)
}

func modelOnlineSessions(model map[string][]*Session) []string {
	var out []string
	for u, sessions := range model {
		if len(sessions) > 0 {
			out = append(out, u)
		}
	}
	return out
}
