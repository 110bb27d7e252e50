package types

import (
	"encoding/base64"
	"encoding/binary"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

const uidBase64Unpadded = 11

// UidGenerator holds snowflake and encryption parameters. Generated ids
// are weakly encrypted with XTEA so they look random instead of mostly
// sequential.
type UidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initialises the Uid generator.
func (ug *UidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ug.seq == nil {
		ug.seq, err = sf.NewSnowFlake(uint32(workerID))
	}
	if ug.cipher == nil {
		ug.cipher, err = xtea.NewCipher(key)
	}

	return err
}

// GetStr generates a unique id and returns it as a base64-encoded
// string suitable for use as a document id.
func (ug *UidGenerator) GetStr() string {
	id, err := ug.seq.Next()
	if err != nil {
		return ""
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ug.cipher.Encrypt(dst, src)

	return base64.URLEncoding.EncodeToString(dst)[:uidBase64Unpadded]
}
