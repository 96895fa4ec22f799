// Package mqtt relays the object mirror to an MQTT broker.
//
// Topics, relative to the prefix in the broker URL:
//
//	objects/<Name>/<Instance>      retained JSON value, published on every update
//	objects/<Name>/<Instance>/set  JSON fields to set and send to the peer
//	objects/<Name>/<Instance>/get  request the value from the peer
//	state                          retained connection state
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/connection"
	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
)

// Topics and values.
const (
	ObjectsTopic = "objects"
	StateTopic   = "state"
	StateOffline = "Offline"

	DefaultGetTimeout = 2 * time.Second
)

// DefaultClientID derives a stable client id from the machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("uavtalk")
	if err != nil {
		glog.Warningf("mqtt: machine id: %v", err)
		return "uavtalk"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "uavtalk-" + id
}

// ObjectTopic returns the topic of an instance.
func ObjectTopic(name string, instID uint16) string {
	return ObjectsTopic + "/" + name + "/" + strconv.Itoa(int(instID))
}

// Bridge publishes object updates and accepts changes from MQTT.
type Bridge struct {
	Queue      *Queue
	Objects    *telemetry.Manager
	GetTimeout time.Duration
}

// New creates a Bridge connecting to brokerURL.
func New(brokerURL string, objects *telemetry.Manager) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	if opts.ClientID == "" {
		opts.SetClientID(DefaultClientID())
	}
	opts.SetBinaryWill(topicPrefix+StateTopic, []byte(StateOffline), 1, true)
	return NewWithQueue(NewQueue(opts, topicPrefix), objects), nil
}

// NewWithQueue creates a Bridge over an existing Queue.
func NewWithQueue(q *Queue, objects *telemetry.Manager) *Bridge {
	return &Bridge{Queue: q, Objects: objects, GetTimeout: DefaultGetTimeout}
}

// StateChanged implements connection.StateListener.
func (b *Bridge) StateChanged(_, to connection.State) {
	b.Queue.PubWith(StateTopic, []byte(to.String()), 1, true)
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	defer b.Queue.Close()
	stop := b.Attach()
	defer stop()
	<-ctx.Done()
	b.Queue.PubWith(StateTopic, []byte(StateOffline), 1, true).Wait()
	return ctx.Err()
}

// Attach starts relaying on a connected Queue. The returned func stops it.
func (b *Bridge) Attach() func() {
	setSub := b.Queue.Sub(ObjectsTopic+"/+/+/set", b.handleSet)
	getSub := b.Queue.Sub(ObjectsTopic+"/+/+/get", b.handleGet)
	observer := b.Objects.Observe(telemetry.ObserverFunc(b.publish))
	return func() {
		observer.Close()
		setSub.Close()
		getSub.Close()
	}
}

func (b *Bridge) publish(u telemetry.Update) {
	def := u.Data.Definition()
	payload, err := MarshalJSON(u.Data)
	if err != nil {
		glog.Warningf("mqtt: encode %s: %v", def.Name, err)
		return
	}
	b.Queue.PubWith(ObjectTopic(def.Name, u.InstanceID), payload, 0, true)
}

// parseTopic parses objects/<Name>/<Instance>/<op>.
func (b *Bridge) parseTopic(topic string) (*uavobject.Definition, uint16, error) {
	tokens := strings.Split(topic, "/")
	if len(tokens) != 4 || tokens[0] != ObjectsTopic {
		return nil, 0, fmt.Errorf("invalid topic %q", topic)
	}
	def, ok := b.Objects.Dictionary().ByName(tokens[1])
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", tokens[1], telemetry.ErrUnknownObject)
	}
	instID, err := strconv.ParseUint(tokens[2], 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid instance %q: %w", tokens[2], err)
	}
	return def, uint16(instID), nil
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	if err := b.set(topic, payload); err != nil {
		glog.Warningf("mqtt: %s: %v", topic, err)
	}
}

func (b *Bridge) set(topic string, payload []byte) error {
	def, instID, err := b.parseTopic(topic)
	if err != nil {
		return err
	}
	data, err := b.Objects.Get(def.ID, instID)
	if err != nil {
		return err
	}
	if err = UnmarshalJSON(payload, data); err != nil {
		return err
	}
	return b.Objects.Set(def.ID, instID, data, true)
}

func (b *Bridge) handleGet(topic string, _ []byte) {
	def, instID, err := b.parseTopic(topic)
	if err != nil {
		glog.Warningf("mqtt: %s: %v", topic, err)
		return
	}
	// answered through the observer when the value arrives.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.GetTimeout)
		defer cancel()
		if _, err := b.Objects.GetUpdate(ctx, def.ID, instID); err != nil {
			glog.Warningf("mqtt: get %s[%d]: %v", def.Name, instID, err)
		}
	}()
}
