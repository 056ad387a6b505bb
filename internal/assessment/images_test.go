package assessment

import (
	"bytes"
	"errors"
	"testing"
)

func TestSplitImage_RoundTripAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0x89, 'P', 'N', 'G', 0x00, 0xff}, 200)
	imgs := []Image{
		{Name: "sensory.png", Caption: "Sensory profile", Data: data},
		{Name: "timeline.png", Caption: "Milestones", Data: []byte("small")},
	}

	chunks := SplitImages(imgs, 100)
	for _, c := range chunks {
		if len(c.Data) > 100 {
			t.Fatalf("chunk %s/%d exceeds size: %d", c.Name, c.Index, len(c.Data))
		}
	}
	if chunks[0].Count < 2 {
		t.Fatalf("expected first image to need several chunks, got %d", chunks[0].Count)
	}

	// Reverse to check ordering is restored by index.
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}
	got, err := AssembleImages(chunks)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 images, got %d", len(got))
	}
	byName := map[string]Image{got[0].Name: got[0], got[1].Name: got[1]}
	if !bytes.Equal(byName["sensory.png"].Data, data) {
		t.Error("sensory.png bytes changed in round trip")
	}
	if byName["timeline.png"].Caption != "Milestones" {
		t.Errorf("caption lost: %+v", byName["timeline.png"])
	}
}

func TestSplitImage_EmptyDataIsOneChunk(t *testing.T) {
	chunks := SplitImage(Image{Name: "blank.png"}, 0)
	if len(chunks) != 1 || chunks[0].Count != 1 || chunks[0].Data != "" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
}

func TestAssembleImages_MissingChunk(t *testing.T) {
	chunks := SplitImage(Image{Name: "chart.png", Data: bytes.Repeat([]byte("x"), 300)}, 50)
	_, err := AssembleImages(chunks[1:])
	if !errors.Is(err, ErrIncompleteImage) {
		t.Errorf("expected ErrIncompleteImage, got %v", err)
	}
}
