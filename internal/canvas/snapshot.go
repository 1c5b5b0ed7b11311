package canvas

import (
	"github.com/fxamacker/cbor/v2"
)

// snapshotEncMode encodes documents with Core Deterministic Encoding so the
// same document state always produces identical snapshot bytes.
var snapshotEncMode cbor.EncMode

var snapshotDecMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	snapshotEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("canvas: CBOR encoder initialization failed: " + err.Error())
	}

	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("canvas: CBOR decoder initialization failed: " + err.Error())
	}
}

// Snapshot is an immutable encoded copy of a document.
type Snapshot []byte

// TakeSnapshot encodes a deep copy of the document.
func TakeSnapshot(document Document) (Snapshot, error) {
	encoded, err := snapshotEncMode.Marshal(document)
	if err != nil {
		return nil, err
	}
	return Snapshot(encoded), nil
}

// Restore decodes the snapshot into a new, independent document.
func (s Snapshot) Restore() (Document, error) {
	var document Document
	if err := snapshotDecMode.Unmarshal(s, &document); err != nil {
		return Document{}, err
	}
	if document.Elements == nil {
		document.Elements = []Element{}
	}
	return document, nil
}

func cloneDocument(document Document) (Document, error) {
	snapshot, err := TakeSnapshot(document)
	if err != nil {
		return Document{}, err
	}
	return snapshot.Restore()
}
