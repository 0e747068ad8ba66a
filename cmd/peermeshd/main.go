// Command peermeshd is a minimal demo daemon: it generates (or loads) a
// local identity and either joins a named room namespace for presence
// discovery or, when a group mode is chosen, creates or joins an
// end-to-end encrypted group instead, printing every event as it happens. It exists to exercise the module end to
// end, the way the teacher's cmd/ping and cmd/monitor exercise gyre.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/peermesh/peermesh/group"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/namespace/drivers"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/store"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

var (
	signalingURL = flag.String("signaling-url", "ws://localhost:8765", "WebSocket signaling relay to dial")
	identityFile = flag.String("identity-db", "peermeshd.identity", "SQLite file holding this node's private key")
	prefix       = flag.String("prefix", "pm", "namespace id prefix shared by everyone who should find each other")
	room         = flag.String("room", "lobby", "custom-namespace room name to join for presence")
	name         = flag.String("name", "", "friendly name announced to peers (defaults to a short fingerprint)")

	groupName   = flag.String("create-group", "", "create a new group with this name instead of joining the room")
	inviteOut   = flag.String("invite-out", "", "write a GroupInvite for the given peer public key (hex, via -invite-to) to this file")
	inviteTo    = flag.String("invite-to", "", "hex-encoded public key of the peer to invite with -invite-out")
	inviteIn    = flag.String("invite-in", "", "join a group from a GroupInvite file written by -invite-out")
	inviterHex  = flag.String("invite-from", "", "hex-encoded public key of the inviter, required with -invite-in")
)

func loadIdentity(path string) (*identity.Manager, error) {
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %v", err)
	}
	defer db.Close()

	der, err := db.Get("identity")
	if err == nil {
		return identity.Import(der)
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("reading identity: %v", err)
	}

	im, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %v", err)
	}
	der, err = im.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling identity: %v", err)
	}
	if err := db.Put("identity", der); err != nil {
		return nil, fmt.Errorf("persisting identity: %v", err)
	}
	return im, nil
}

func main() {
	flag.Parse()

	im, err := loadIdentity(*identityFile)
	if err != nil {
		log.Fatalf("E: %v", err)
	}
	pub := im.Public()
	friendlyName := *name
	if friendlyName == "" {
		friendlyName = pub.Fingerprint[:8]
	}
	log.Printf("I: [peermeshd] identity fingerprint=%s name=%q", pub.Fingerprint, friendlyName)

	dialer := transport.NewWebSocketDialer(*signalingURL)
	if err := dialer.Probe(context.Background()); err != nil {
		log.Fatalf("E: [peermeshd] signaling relay unreachable at %s: %v", *signalingURL, err)
	}
	gate := signaling.New(dialer)
	defer gate.Close()

	selfUUID := pub.Fingerprint // stable per identity, unique enough for this demo's namespace slots

	switch {
	case *groupName != "":
		runGroupCreate(im, dialer, gate, selfUUID, friendlyName, pub)
	case *inviteIn != "":
		runGroupJoin(im, dialer, gate, selfUUID, friendlyName, pub)
	default:
		runRoom(dialer, gate, selfUUID, friendlyName, pub)
	}
}

func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

// runRoom joins the plain presence namespace and logs discovery
// churn and any broadcast app traffic, mirroring the teacher's
// EventEnter/EventExit/EventShout loop in cmd/ping.
func runRoom(dialer transport.Dialer, gate *signaling.Gate, selfUUID, friendlyName string, pub identity.Public) {
	cfg := drivers.NewCustomConfig(*prefix, *room)
	engine := namespace.New(cfg, namespace.DefaultConstants(), dialer, gate, selfUUID, pub.Fingerprint, friendlyName, pub.KeyBytes)
	engine.Start()
	defer engine.Close()

	log.Printf("I: [peermeshd] joined room %q as %s", *room, friendlyName)

	go func() {
		for ev := range engine.Events() {
			switch ev.Type {
			case namespace.EventRoleChanged:
				log.Printf("I: [peermeshd] role -> %s", ev.Role)
			case namespace.EventPeerDiscovered:
				log.Printf("I: [peermeshd] peer discovered: %s (%s)", ev.Entry.FriendlyName, ev.Entry.DiscoveryAddress)
			case namespace.EventPeerLost:
				log.Printf("I: [peermeshd] peer lost: %s", ev.Entry.FriendlyName)
			case namespace.EventMessage:
				log.Printf("I: [peermeshd] app message from %s: %q", ev.From, string(ev.Payload))
			}
		}
	}()

	waitForInterrupt()
}

func runGroupCreate(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, selfUUID, friendlyName string, pub identity.Public) {
	mgr, err := group.Create(im, dialer, gate, *prefix, namespace.DefaultConstants(), selfUUID, friendlyName, pub.KeyBytes, *groupName)
	if err != nil {
		log.Fatalf("E: [peermeshd] creating group: %v", err)
	}
	mgr.Start()
	defer mgr.Close()
	log.Printf("I: [peermeshd] created group %q (id=%s)", *groupName, mgr.Info().GroupID)

	if *inviteOut != "" {
		inviteePub, err := hexDecode(*inviteTo)
		if err != nil {
			log.Fatalf("E: [peermeshd] -invite-to: %v", err)
		}
		inv, err := mgr.BuildInvite(inviteePub)
		if err != nil {
			log.Fatalf("E: [peermeshd] building invite: %v", err)
		}
		if err := writeInvite(*inviteOut, inv); err != nil {
			log.Fatalf("E: [peermeshd] writing invite: %v", err)
		}
		log.Printf("I: [peermeshd] wrote invite to %s", *inviteOut)
	}

	runGroupChat(mgr)
}

func runGroupJoin(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, selfUUID, friendlyName string, pub identity.Public) {
	inv, err := readInvite(*inviteIn)
	if err != nil {
		log.Fatalf("E: [peermeshd] reading invite: %v", err)
	}
	inviterPub, err := hexDecode(*inviterHex)
	if err != nil {
		log.Fatalf("E: [peermeshd] -invite-from: %v", err)
	}
	mgr, err := group.JoinFromInvite(im, dialer, gate, *prefix, namespace.DefaultConstants(), selfUUID, friendlyName, pub.KeyBytes, inv, inviterPub)
	if err != nil {
		log.Fatalf("E: [peermeshd] joining group: %v", err)
	}
	mgr.Start()
	defer mgr.Close()
	log.Printf("I: [peermeshd] joined group %q (id=%s)", inv.Name, mgr.Info().GroupID)

	runGroupChat(mgr)
}

// runGroupChat relays stdin lines into the group and prints every
// incoming event, a crude but sufficient chat loop for this demo.
func runGroupChat(mgr *group.Manager) {
	go func() {
		for ev := range mgr.Events() {
			switch ev.Type {
			case group.EventMessage:
				log.Printf("< %s", ev.Message.Body)
			case group.EventMemberLeft:
				log.Printf("I: [peermeshd] %s left the group", ev.Member.Name)
			case group.EventKicked:
				log.Printf("I: [peermeshd] removed from the group")
				return
			case group.EventKeyRotated:
				log.Printf("I: [peermeshd] group key rotated")
			case group.EventFileReceived:
				log.Printf("I: [peermeshd] received file %q (%d bytes)", ev.File.Name, len(ev.File.Data))
			}
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if _, err := mgr.SendText(scanner.Text()); err != nil {
				log.Printf("W: [peermeshd] send failed: %v", err)
			}
		}
	}()

	waitForInterrupt()
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func writeInvite(path string, inv *wire.GroupInvite) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(inv)
}

func readInvite(path string) (*wire.GroupInvite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var inv wire.GroupInvite
	if err := json.NewDecoder(f).Decode(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
