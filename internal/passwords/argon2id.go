package passwords

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

const AlgoArgon2id = "argon2id"

var ErrEmptyPassword = errors.New("passwords: empty password")

type Params struct {
	// Stored alongside the hash so verification uses the original cost.
	Time    uint32 `json:"t"` // iterations
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
	SaltLen uint32 `json:"s"`
}

// DefaultParams is the production policy: 3 passes over 64 MiB.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type Hashed struct {
	Algo       string
	Hash       []byte
	Salt       []byte
	ParamsJSON []byte
	Version    int
}

// Credential is what Verify needs from a stored password row.
type Credential interface {
	GetAlgo() string
	GetHash() []byte
	GetSalt() []byte
	GetParamsJSON() []byte
	GetPasswordVer() int
}

type Hasher struct {
	version int // bump when the policy changes
	cur     Params
}

func NewArgon2id(p Params, version int) *Hasher {
	if version <= 0 {
		version = 1
	}
	return &Hasher{version: version, cur: p}
}

func (h *Hasher) Hash(password string) (Hashed, error) {
	if password == "" {
		return Hashed{}, ErrEmptyPassword
	}
	salt := make([]byte, h.cur.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return Hashed{}, err
	}
	params, err := json.Marshal(h.cur)
	if err != nil {
		return Hashed{}, err
	}
	return Hashed{
		Algo:       AlgoArgon2id,
		Hash:       argon2.IDKey([]byte(password), salt, h.cur.Time, h.cur.Memory, h.cur.Threads, h.cur.KeyLen),
		Salt:       salt,
		ParamsJSON: params,
		Version:    h.version,
	}, nil
}

// Verify checks password against cred. rehashNeeded is only reported for a
// successful match whose stored policy differs from the current one.
func (h *Hasher) Verify(password string, cred Credential) (rehashNeeded bool, ok bool) {
	if cred.GetAlgo() != AlgoArgon2id {
		return false, false
	}
	var stored Params
	if err := json.Unmarshal(cred.GetParamsJSON(), &stored); err != nil {
		return false, false
	}
	calculated := argon2.IDKey([]byte(password), cred.GetSalt(), stored.Time, stored.Memory, stored.Threads, stored.KeyLen)
	ok = subtle.ConstantTimeCompare(calculated, cred.GetHash()) == 1

	rehashNeeded = ok && (cred.GetPasswordVer() != h.version || stored != h.cur)
	return rehashNeeded, ok
}
