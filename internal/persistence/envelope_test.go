package persistence

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/ir"
)

// rewrite decodes an envelope, lets fn edit it and re-encodes it.
func rewrite(t *testing.T, data []byte, fn func(obj ir.Object)) []byte {
	t.Helper()
	obj, err := ir.DecodeObject(data)
	require.NoError(t, err)
	fn(obj)
	out, err := ir.MarshalCanonical(obj)
	require.NoError(t, err)
	return out
}

func TestEnvelopeRoundTrip(t *testing.T) {
	l := newTestList(t, "A", "B", "C")
	state, _ := l.Snapshot()

	data, err := EncodeSnapshot(testTopic, state)
	require.NoError(t, err)

	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, testTopic, snap.Topic)
	assert.Equal(t, SchemaVersion, snap.SchemaVersion)
	assert.Equal(t, MigrationCurrent, snap.Migration)
	assert.Len(t, snap.Digest, 64)
	assert.True(t, state.Equal(snap.State))
}

func TestEnvelopeIsCanonical(t *testing.T) {
	l := newTestList(t, "A", "B")
	state, _ := l.Snapshot()

	a, err := EncodeSnapshot(testTopic, state)
	require.NoError(t, err)
	b, err := EncodeSnapshot(testTopic, state.Clone())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.True(t, bytes.HasPrefix(a, []byte(`{"codec_marker":"tasksync-canonical-json","codec_version":1,"integrity":{"algorithm":"sha256","digest_hex":"`)))
}

func TestEnvelopeAcceptsPreviousSchema(t *testing.T) {
	l := newTestList(t, "A")
	state, _ := l.Snapshot()

	data, err := EncodeSnapshotVersion(testTopic, state, PreviousSchemaVersion)
	require.NoError(t, err)

	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, MigrationFromPrevious, snap.Migration)
	assert.True(t, state.Equal(snap.State))
}

func TestEnvelopeRejectsCorruption(t *testing.T) {
	l := newTestList(t, "A", "B")
	state, _ := l.Snapshot()
	data, err := EncodeSnapshot(testTopic, state)
	require.NoError(t, err)

	tests := []struct {
		name string
		data func() []byte
	}{
		{"not json", func() []byte { return []byte("not-json") }},
		{"truncated", func() []byte { return data[:len(data)/2] }},
		{"digest mismatch", func() []byte {
			return rewrite(t, data, func(obj ir.Object) {
				obj["integrity"].(ir.Object)["digest_hex"] = ir.String(ir.Digest(ir.DomainSnapshotV2, []byte("other")))
			})
		}},
		{"payload edited", func() []byte {
			return rewrite(t, data, func(obj ir.Object) {
				obj["payload"].(ir.Object)["topic"] = ir.String("elsewhere")
			})
		}},
		{"digest from previous schema domain", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { obj["schema_version"] = ir.Int(PreviousSchemaVersion) })
		}},
		{"future schema", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { obj["schema_version"] = ir.Int(SchemaVersion + 1) })
		}},
		{"schema too old", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { obj["schema_version"] = ir.Int(0) })
		}},
		{"codec marker", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { obj["codec_marker"] = ir.String("bincode") })
		}},
		{"codec version", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { obj["codec_version"] = ir.Int(2) })
		}},
		{"algorithm", func() []byte {
			return rewrite(t, data, func(obj ir.Object) {
				obj["integrity"].(ir.Object)["algorithm"] = ir.String("blake3")
			})
		}},
		{"missing payload", func() []byte {
			return rewrite(t, data, func(obj ir.Object) { delete(obj, "payload") })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(tt.data())
			require.Error(t, err)
			assert.Equal(t, KindFormatFailure, KindOf(err))
		})
	}
}

func TestLegacyArtifactDetection(t *testing.T) {
	legacy := []string{
		`{"ciphertext":"abc","nonce":"123","key_id":"k1"}`,
		`{"ciphertext":"abc","iv":"123","kdf":"argon2id"}`,
		`{"ciphertext":"abc","nonce":"123","aad":"x","extra":1.5}`,
		`{"ciphertext":"abc","iv":"123","encryption":{"alg":"xchacha20"}}`,
	}
	for _, doc := range legacy {
		assert.True(t, LooksLikeLegacyArtifact([]byte(doc)), doc)
		_, err := DecodeSnapshot([]byte(doc))
		assert.Equal(t, KindUnsupportedLegacyArtifact, KindOf(err), doc)
		assert.True(t, IsLegacyArtifact(err))
	}

	notLegacy := []string{
		`{"ciphertext":"abc","nonce":"123"}`,
		`{"nonce":"123","key_id":"k1"}`,
		`["ciphertext","nonce","key_id"]`,
		`not-json`,
	}
	for _, doc := range notLegacy {
		assert.False(t, LooksLikeLegacyArtifact([]byte(doc)), doc)
		_, err := DecodeSnapshot([]byte(doc))
		assert.Equal(t, KindFormatFailure, KindOf(err), doc)
	}
}

func TestEncodeSnapshotVersionRejectsUnsupported(t *testing.T) {
	_, err := EncodeSnapshotVersion(testTopic, nil, SchemaVersion+1)
	assert.Error(t, err)
}
