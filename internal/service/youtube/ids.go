package youtube

import "strings"

// IsChannelID reports whether ref is a channel id rather than a playlist id.
func IsChannelID(ref string) bool {
	return strings.HasPrefix(ref, "UC")
}

// IsHandle reports whether ref is an @handle.
func IsHandle(ref string) bool {
	return strings.HasPrefix(ref, "@") && len(ref) > 1
}

// ChunkIDs splits ids into contiguous chunks of at most size elements.
func ChunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxIDsPerCall
	}

	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}

	return chunks
}
