package group

import (
	"log"

	"github.com/google/uuid"

	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/wire"
)

// fileChunkSize bounds each FileChunk frame per spec.md §4.7.
const fileChunkSize = 16 * 1024

// fileNonceLen matches identity.Encrypt/Decrypt's AES-GCM nonce size.
// identity doesn't export its own constant, and wire.FileStart/
// FileChunk/FileEnd carry no separate IV field, so the nonce simply
// rides as a fixed-length prefix of the encrypted stream (iv followed by
// ciphertext) and so arrives at the start of the first chunk.
const fileNonceLen = 12

// SendFile encrypts data under the current group key and streams it as
// FileStart/FileChunk.../FileEnd, the same opaque relay path as a text
// message: straight to every member if we're router, via our router
// otherwise.
func (m *Manager) SendFile(name string, data []byte) (string, error) {
	reply := make(chan struct {
		tid string
		err error
	}, 1)
	m.actions <- func() {
		tid, err := m.sendFile(name, data)
		reply <- struct {
			tid string
			err error
		}{tid, err}
	}
	r := <-reply
	return r.tid, r.err
}

func (m *Manager) sendFile(name string, data []byte) (string, error) {
	if len(m.info.CurrentKey) == 0 {
		return "", ErrNoKey
	}
	iv, ct, err := identity.Encrypt(m.info.CurrentKey, data)
	if err != nil {
		return "", err
	}
	stream := append(append([]byte(nil), iv...), ct...)
	tid := uuid.NewString()
	total := (len(stream) + fileChunkSize - 1) / fileChunkSize
	if total == 0 {
		total = 1
	}
	m.sentTIDs[tid] = true

	if err := m.broadcastWire(&wire.FileStart{TID: tid, Name: name, Size: int64(len(data)), TotalChunk: total}); err != nil {
		return "", err
	}
	for i := 0; i < total; i++ {
		start := i * fileChunkSize
		end := start + fileChunkSize
		if end > len(stream) {
			end = len(stream)
		}
		if err := m.broadcastWire(&wire.FileChunk{TID: tid, Index: i, Bytes: stream[start:end]}); err != nil {
			return tid, err
		}
	}
	if err := m.broadcastWire(&wire.FileEnd{TID: tid}); err != nil {
		return tid, err
	}
	return tid, nil
}

func (m *Manager) onFileStart(fs *wire.FileStart) {
	if m.sentTIDs[fs.TID] {
		return
	}
	m.transfers[fs.TID] = &inFlightTransfer{
		name:   fs.Name,
		size:   fs.Size,
		total:  fs.TotalChunk,
		chunks: make([][]byte, fs.TotalChunk),
	}
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(fs); err != nil {
			log.Printf("W: [group:%s] relaying file start %s: %v", m.info.GroupID, fs.TID, err)
		}
	}
}

func (m *Manager) onFileChunk(fc *wire.FileChunk) {
	if m.sentTIDs[fc.TID] {
		return
	}
	t, ok := m.transfers[fc.TID]
	if !ok || fc.Index < 0 || fc.Index >= len(t.chunks) {
		return
	}
	if t.chunks[fc.Index] == nil {
		t.got++
	}
	t.chunks[fc.Index] = fc.Bytes
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(fc); err != nil {
			log.Printf("W: [group:%s] relaying file chunk %s#%d: %v", m.info.GroupID, fc.TID, fc.Index, err)
		}
	}
}

func (m *Manager) onFileEnd(fe *wire.FileEnd) {
	if m.sentTIDs[fe.TID] {
		delete(m.sentTIDs, fe.TID)
		return
	}
	t, ok := m.transfers[fe.TID]
	if !ok {
		return
	}
	delete(m.transfers, fe.TID)
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(fe); err != nil {
			log.Printf("W: [group:%s] relaying file end %s: %v", m.info.GroupID, fe.TID, err)
		}
	}
	if t.got != t.total {
		log.Printf("W: [group:%s] transfer %s incomplete: got %d/%d chunks", m.info.GroupID, fe.TID, t.got, t.total)
		return
	}
	var stream []byte
	for _, c := range t.chunks {
		stream = append(stream, c...)
	}
	if len(stream) < fileNonceLen {
		log.Printf("W: [group:%s] transfer %s too short to contain a nonce", m.info.GroupID, fe.TID)
		return
	}
	iv, ct := stream[:fileNonceLen], stream[fileNonceLen:]
	plaintext, err := identity.Decrypt(m.info.CurrentKey, iv, ct)
	if err != nil {
		log.Printf("W: [group:%s] decrypting transfer %s: %v", m.info.GroupID, fe.TID, err)
		return
	}
	m.publish(Event{Type: EventFileReceived, File: &ReceivedFile{
		TransferID: fe.TID,
		Name:       t.name,
		Size:       t.size,
		Data:       plaintext,
	}})
}
