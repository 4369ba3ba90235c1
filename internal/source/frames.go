package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"cinegrid/internal/cine"
)

const frameAccept = `multipart/related; type="application/octet-stream"; transfer-syntax=*, application/octet-stream;q=0.5`

// FetchFrame retrieves one high-fidelity frame (0-based index) of inst.
// Both single-part and multipart/related responses are accepted; only the
// first part of a multipart body is used.
func (c *Client) FetchFrame(ctx context.Context, inst cine.Instance, index int) (cine.Payload, error) {
	target, err := c.FrameURL(inst, index)
	if err != nil {
		return cine.Payload{}, err
	}
	resp, err := c.get(ctx, target, frameAccept)
	if err != nil {
		return cine.Payload{}, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return cine.Payload{}, fmt.Errorf("frame %d: read: %w", index, err)
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return cine.Payload{Index: index, ContentType: contentType, Data: data}, nil
	}

	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return cine.Payload{}, fmt.Errorf("frame %d: content type %q has no boundary", index, contentType)
	}
	part, err := multipart.NewReader(resp.Body, boundary).NextPart()
	if errors.Is(err, io.EOF) {
		return cine.Payload{}, fmt.Errorf("frame %d: empty multipart body", index)
	}
	if err != nil {
		return cine.Payload{}, fmt.Errorf("frame %d: read part: %w", index, err)
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		return cine.Payload{}, fmt.Errorf("frame %d: read part: %w", index, err)
	}
	partType := part.Header.Get("Content-Type")
	if partType == "" {
		partType = params["type"]
	}
	if partType == "" {
		partType = "application/octet-stream"
	}
	return cine.Payload{Index: index, ContentType: partType, Data: data}, nil
}
