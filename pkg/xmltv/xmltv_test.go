package xmltv

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChannel() *Channel {
	return &Channel{
		ID:          "retro-toons",
		DisplayName: "Retro Toons",
		Icon:        "http://example.com/toons.png",
		URL:         "http://example.com/retro-toons",
	}
}

func sampleProgramme() *Programme {
	return &Programme{
		Channel:     "retro-toons",
		Start:       time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		Stop:        time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC),
		Title:       "Space Detectives",
		SubTitle:    "The Missing Moon",
		Description: "Two detectives search the asteroid belt.",
		Category:    "Animation",
		EpisodeNum:  "S01E02",
		Language:    "en",
	}
}

func writeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteChannel(sampleChannel()))
	require.NoError(t, w.WriteProgramme(sampleProgramme()))
	require.NoError(t, w.WriteFooter())
	return buf.Bytes()
}

func TestWriter_Output(t *testing.T) {
	out := string(writeSample(t))

	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, `generator-info-name="retrovue"`)
	assert.Contains(t, out, `<channel id="retro-toons">`)
	assert.Contains(t, out, `<display-name>Retro Toons</display-name>`)
	assert.Contains(t, out, `start="20240601180000 +0000" stop="20240601183000 +0000"`)
	assert.Contains(t, out, `<title lang="en">Space Detectives</title>`)
	assert.Contains(t, out, `<episode-num system="onscreen">S01E02</episode-num>`)
	assert.True(t, strings.HasSuffix(out, "</tv>\n"))
}

func TestWriter_ChannelAfterProgrammeFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteProgramme(sampleProgramme()))
	assert.Error(t, w.WriteChannel(sampleChannel()))
}

func TestWriter_EscapesText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	prog := sampleProgramme()
	prog.Title = `Tom & Jerry <live>`
	require.NoError(t, w.WriteProgramme(prog))

	assert.Contains(t, buf.String(), "Tom &amp; Jerry &lt;live&gt;")
}

func TestRoundTrip(t *testing.T) {
	data := writeSample(t)

	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel:   func(ch *Channel) error { channels = append(channels, ch); return nil },
		OnProgramme: func(prog *Programme) error { programmes = append(programmes, prog); return nil },
	}
	require.NoError(t, p.Parse(bytes.NewReader(data)))

	require.Len(t, channels, 1)
	assert.Equal(t, sampleChannel(), channels[0])

	require.Len(t, programmes, 1)
	assert.Equal(t, sampleProgramme(), programmes[0])
}

func TestParseCompressed_Gzip(t *testing.T) {
	data := writeSample(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	var count int
	p := &Parser{OnProgramme: func(*Programme) error { count++; return nil }}
	require.NoError(t, p.ParseCompressed(&buf))
	assert.Equal(t, 1, count)
}

func TestParseCompressed_PlainPassthrough(t *testing.T) {
	data := writeSample(t)

	var count int
	p := &Parser{OnChannel: func(*Channel) error { count++; return nil }}
	require.NoError(t, p.ParseCompressed(bytes.NewReader(data)))
	assert.Equal(t, 1, count)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
		err   bool
	}{
		{
			name:  "with offset",
			input: "20240601180000 +0000",
			want:  time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "negative offset",
			input: "20240601180000 -0500",
			want:  time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC),
		},
		{
			name:  "no offset",
			input: "20240601180000",
			want:  time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "minute precision",
			input: "202406011800",
			want:  time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		},
		{name: "empty", input: "", err: true},
		{name: "garbage", input: "next tuesday", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}
