package assessment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
)

// ImageChunkSize is the largest base64 slice stored in one spreadsheet cell.
// An .xlsx cell holds at most 32,767 characters.
const ImageChunkSize = 30000

var ErrIncompleteImage = errors.New("image chunks incomplete")

// ImageChunk is one base64 slice of an image as it travels over the wire and
// sits in the R3_Images sheet.
type ImageChunk struct {
	Name    string `json:"name"`
	Caption string `json:"caption,omitempty"`
	Index   int    `json:"index"`
	Count   int    `json:"count"`
	Data    string `json:"data"`
}

// SplitImage base64-encodes img and cuts it into chunks of at most size
// characters. A non-positive size uses ImageChunkSize.
func SplitImage(img Image, size int) []ImageChunk {
	if size <= 0 {
		size = ImageChunkSize
	}
	enc := base64.StdEncoding.EncodeToString(img.Data)
	count := (len(enc) + size - 1) / size
	if count == 0 {
		count = 1
	}
	chunks := make([]ImageChunk, 0, count)
	for i := range count {
		start := i * size
		end := min(start+size, len(enc))
		chunks = append(chunks, ImageChunk{
			Name:    img.Name,
			Caption: img.Caption,
			Index:   i,
			Count:   count,
			Data:    enc[start:end],
		})
	}
	return chunks
}

// SplitImages splits every image in order.
func SplitImages(imgs []Image, size int) []ImageChunk {
	var out []ImageChunk
	for _, img := range imgs {
		out = append(out, SplitImage(img, size)...)
	}
	return out
}

// AssembleImages groups chunks by image name, orders them by index and
// decodes each image. Images come back in order of first appearance.
func AssembleImages(chunks []ImageChunk) ([]Image, error) {
	var order []string
	groups := make(map[string][]ImageChunk)
	for _, c := range chunks {
		if _, ok := groups[c.Name]; !ok {
			order = append(order, c.Name)
		}
		groups[c.Name] = append(groups[c.Name], c)
	}

	out := make([]Image, 0, len(order))
	for _, name := range order {
		parts := groups[name]
		sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })
		count := parts[0].Count
		if len(parts) != count {
			return nil, fmt.Errorf("%w: %s has %d of %d chunks", ErrIncompleteImage, name, len(parts), count)
		}
		var enc []byte
		caption := ""
		for i, p := range parts {
			if p.Index != i || p.Count != count {
				return nil, fmt.Errorf("%w: %s chunk %d out of sequence", ErrIncompleteImage, name, p.Index)
			}
			if caption == "" {
				caption = p.Caption
			}
			enc = append(enc, p.Data...)
		}
		data, err := base64.StdEncoding.DecodeString(string(enc))
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", name, err)
		}
		out = append(out, Image{Name: name, Caption: caption, Data: data})
	}
	return out, nil
}

// Submission is what a finished form posts: the record without its images,
// plus the images as chunks.
type Submission struct {
	Record *Record      `json:"record"`
	Images []ImageChunk `json:"images,omitempty"`
}

// NewSubmission copies rec and moves its images into chunks of at most size
// characters.
func NewSubmission(rec *Record, size int) Submission {
	r := rec.Clone()
	imgs := r.Images
	r.Images = nil
	return Submission{Record: r, Images: SplitImages(imgs, size)}
}
