package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo/address"
	"go.mongodb.org/mongo-driver/mongo/description"
)

type recordingSignals struct {
	mu     sync.Mutex
	closes int
	errs   []error
}

func (r *recordingSignals) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *recordingSignals) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func server(addr string, kind description.ServerKind, err error) description.Server {
	return description.Server{Addr: address.Address(addr), Kind: kind, LastError: err}
}

func replicaSet(servers ...description.Server) description.Topology {
	return description.Topology{Kind: description.ReplicaSetWithPrimary, Servers: servers}
}

func TestTopologyFault(t *testing.T) {
	dialErr := errors.New("connection refused")

	healthy := replicaSet(
		server("a:27017", description.RSPrimary, nil),
		server("b:27017", description.RSSecondary, nil),
		server("c:27017", description.RSSecondary, nil),
	)
	secondaryDown := replicaSet(
		server("a:27017", description.RSPrimary, nil),
		server("b:27017", description.RSSecondary, nil),
		server("c:27017", description.Unknown, dialErr),
	)
	primaryDown := replicaSet(
		server("a:27017", description.Unknown, dialErr),
		server("b:27017", description.RSSecondary, nil),
		server("c:27017", description.RSSecondary, nil),
	)
	allUnknown := replicaSet(
		server("a:27017", description.Unknown, nil),
	)

	tests := []struct {
		name      string
		prev      description.Topology
		next      description.Topology
		wantFault bool
	}{
		{"Secondary heartbeat failure keeps the connection", healthy, secondaryDown, false},
		{"Still failing secondary keeps the connection", secondaryDown, secondaryDown, false},
		{"Primary lost", healthy, primaryDown, true},
		{"Primary lost without a recorded error", healthy, allUnknown, true},
		{"Discovery before a primary is known", allUnknown, primaryDown, false},
		{"Primary recovered", primaryDown, healthy, false},
		{
			"Standalone lost",
			description.Topology{Servers: []description.Server{server("a:27017", description.Standalone, nil)}},
			description.Topology{Servers: []description.Server{server("a:27017", description.Unknown, dialErr)}},
			true,
		},
		{
			"One of two routers lost",
			description.Topology{Servers: []description.Server{
				server("m1:27017", description.Mongos, nil),
				server("m2:27017", description.Mongos, nil),
			}},
			description.Topology{Servers: []description.Server{
				server("m1:27017", description.Unknown, dialErr),
				server("m2:27017", description.Mongos, nil),
			}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := topologyFault(tt.prev, tt.next)
			if !tt.wantFault {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errNoWritableServer)
		})
	}

	err := topologyFault(healthy, primaryDown)
	assert.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "a:27017")
}

func TestServerMonitor(t *testing.T) {
	sig := &recordingSignals{}
	monitor := serverMonitor(sig)

	assert.Nil(t, monitor.ServerHeartbeatFailed, "single heartbeats are left to the driver")

	healthy := replicaSet(server("a:27017", description.RSPrimary, nil))
	lost := replicaSet(server("a:27017", description.Unknown, errors.New("i/o timeout")))

	monitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
		PreviousDescription: lost,
		NewDescription:      healthy,
	})
	assert.Empty(t, sig.errs)

	monitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
		PreviousDescription: healthy,
		NewDescription:      lost,
	})
	assert.Len(t, sig.errs, 1)

	monitor.TopologyClosed(&event.TopologyClosedEvent{})
	assert.Equal(t, 1, sig.closes)
}
