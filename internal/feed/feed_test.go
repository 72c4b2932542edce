package feed

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dash0.com/window-drain-backend/internal/store"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "object", in: `{ "a" : 1 }`, want: `{"a":1}`, ok: true},
		{name: "array", in: `[1, 2]`, want: `[1,2]`, ok: true},
		{name: "string", in: `"x"`, want: `"x"`, ok: true},
		{name: "number", in: ` 42 `, want: `42`, ok: true},
		{name: "null", in: `null`, ok: false},
		{name: "empty", in: ``, ok: false},
		{name: "truncated", in: `{"a":`, ok: false},
		{name: "garbage", in: `not json`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse([]byte(tt.in))
			require.Equal(t, tt.ok, ok)

			if tt.ok {
				require.Equal(t, tt.want, string(got))
			}
		})
	}
}

func TestReadStream_SkipsMalformed(t *testing.T) {
	in := strings.Join([]string{
		`{"n":1}`,
		``,
		`{"n":`,
		`null`,
		`{"n":2}`,
	}, "\n")

	var got []store.Record

	accepted, malformed, err := ReadStream(strings.NewReader(in), func(r store.Record) { got = append(got, r) })
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 2, malformed)
	require.Len(t, got, 2)
	assert.Equal(t, `{"n":1}`, string(got[0]))
	assert.Equal(t, `{"n":2}`, string(got[1]))
}

func TestReadStream_IndentedDocument(t *testing.T) {
	in := "{\n  \"a\": 1,\n  \"b\": [\n    2,\n    3\n  ]\n}\n"

	var got []store.Record

	accepted, malformed, err := ReadStream(strings.NewReader(in), func(r store.Record) { got = append(got, r) })
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Zero(t, malformed)
	require.Len(t, got, 1)
	assert.Equal(t, `{"a":1,"b":[2,3]}`, string(got[0]))
}

func TestReadStream_ConcatenatedAndMixed(t *testing.T) {
	in := `{"n":1} {"n":2}` + "\n" + `[1,` + "\n" + "{\n \"n\": 3\n}\n" + `garbage {"lost":true}` + "\n" + `"tail"`

	var got []string

	accepted, malformed, err := ReadStream(strings.NewReader(in), func(r store.Record) { got = append(got, string(r)) })
	require.NoError(t, err)
	assert.Equal(t, 4, accepted)
	assert.Equal(t, 2, malformed)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `"tail"`}, got)
}

func TestReadStream_TruncatedAtEOF(t *testing.T) {
	accepted, malformed, err := ReadStream(strings.NewReader(`{"n":1}`+"\n"+`{"n":`), func(store.Record) {})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, malformed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReadStream_ReadError(t *testing.T) {
	_, _, err := ReadStream(failingReader{}, func(store.Record) {})
	require.Error(t, err)
}
