package session

// streamUpload writes data as back-to-back binary frames of chunkSize
// bytes (the last may be shorter).  Progress is reported asynchronously
// by the device, so no frame waits for an acknowledgement.
func streamUpload(write func([]byte) error, data []byte, chunkSize int) (int, error) {
	sent := 0
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := write(data[offset:end]); err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}
