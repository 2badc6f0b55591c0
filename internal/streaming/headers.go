package streaming

import "encoding/binary"

// FLACStreamInfoHeader synthesizes a minimal "fLaC" magic + STREAMINFO
// metadata block + empty Vorbis comment block for a source that doesn't
// already begin with the fLaC magic.
// Variable block-size strategy is indeterminable from a single frame
// header, so minBlockSize/maxBlockSize are left at 0 in that case.
func FLACStreamInfoHeader(sampleRate, channels, bitsPerSample int, minBlockSize, maxBlockSize uint16, totalSamples uint64) []byte {
	header := make([]byte, 0, 4+4+34+4)
	header = append(header, 'f', 'L', 'a', 'C')

	streamInfo := make([]byte, 34)
	binary.BigEndian.PutUint16(streamInfo[0:2], minBlockSize)
	binary.BigEndian.PutUint16(streamInfo[2:4], maxBlockSize)
	// min/max frame size left at 0 (unknown) - 24-bit fields.

	// Bits 20 = sample rate, 3 = channels-1, 5 = bits-per-sample-1, 36 = total samples.
	var packed uint64
	packed |= uint64(sampleRate&0xFFFFF) << 44
	packed |= uint64((channels-1)&0x7) << 41
	packed |= uint64((bitsPerSample-1)&0x1F) << 36
	packed |= totalSamples & 0xFFFFFFFFF
	binary.BigEndian.PutUint64(streamInfo[10:18], packed)
	// MD5 signature (streamInfo[18:34]) left zeroed - unknown without decoding the full stream.

	blockHeader := make([]byte, 4)
	blockHeader[0] = 0 // type 0 = STREAMINFO, last-metadata-block flag unset (vorbis comment follows)
	putUint24(blockHeader[1:4], uint32(len(streamInfo)))
	header = append(header, blockHeader...)
	header = append(header, streamInfo...)

	header = append(header, vorbisCommentBlock()...)
	return header
}

// vorbisCommentBlock emits an empty, last-metadata-block VORBIS_COMMENT
// block ("lms2upnp" vendor string, zero user comments).
func vorbisCommentBlock() []byte {
	vendor := []byte("lms2upnp")
	body := make([]byte, 0, 4+len(vendor)+4)
	vendorLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(vendorLen, uint32(len(vendor)))
	body = append(body, vendorLen...)
	body = append(body, vendor...)
	userCommentCount := make([]byte, 4)
	body = append(body, userCommentCount...) // 0 comments

	blockHeader := make([]byte, 4)
	blockHeader[0] = 0x80 | 4 // last-metadata-block flag set, type 4 = VORBIS_COMMENT
	putUint24(blockHeader[1:4], uint32(len(body)))

	out := make([]byte, 0, 4+len(body))
	out = append(out, blockHeader...)
	out = append(out, body...)
	return out
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// WAVHeader synthesizes a RIFF/WAVE header with a sentinel (maximal)
// chunk size so renderers that insist on a finite Content-Length still
// play a stream whose true length isn't known up front.
func WAVHeader(sampleRate, channels, bitsPerSample int) []byte {
	const sentinelDataSize = 0x7FFFFFFF - 36
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(sentinelDataSize+36))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(sentinelDataSize))
	return h
}

// SwapByteOrder byte-swaps n-byte groups in place (n = 2, 3, or 4), used
// when the renderer expects the opposite endianness from the source.
func SwapByteOrder(pcm []byte, groupSize int) {
	for i := 0; i+groupSize <= len(pcm); i += groupSize {
		for lo, hi := 0, groupSize-1; lo < hi; lo, hi = lo+1, hi-1 {
			pcm[i+lo], pcm[i+hi] = pcm[i+hi], pcm[i+lo]
		}
	}
}

// RepackL24PackedLPCM repacks 24-bit PCM samples from 3-bytes-per-sample
// into DLNA's "packed LPCM" layout: 4 input samples (12 bytes) become 3
// 32-bit words with the sample bytes left-justified.
func RepackL24PackedLPCM(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)/12*16)
	for i := 0; i+12 <= len(pcm); i += 12 {
		for s := 0; s < 4; s++ {
			b0, b1, b2 := pcm[i+s*3], pcm[i+s*3+1], pcm[i+s*3+2]
			out = append(out, b2, b1, b0, 0)
		}
	}
	return out
}
