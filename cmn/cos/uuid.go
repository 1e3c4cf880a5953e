package cos

import (
	ratomic "sync/atomic"
	"time"

	"github.com/teris-io/shortid"
)

// Alphabet for generating short, URL-safe call/trace ids.
// NOTE: len(uuidABC) > 0x3f - see GenTie()
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9 // as per https://github.com/teris-io/shortid#id-length

var (
	sid  *shortid.Shortid
	rtie ratomic.Uint32
)

// init seeds the generator so GenUUID works without an explicit
// InitShortID call; InitShortID may still reseed it.
func init() { InitShortID(uint64(time.Now().UnixNano())) }

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenUUID mints a short, mostly-unique id (call id, trace id, ...); the
// leading/trailing tie-breaker guards against ids that would otherwise
// start with a non-letter or end with a separator character.
func GenUUID() (uuid string) {
	var h, t string
	uuid = sid.MustGenerate()
	if !isAlpha(uuid[0]) {
		h = GenTie()[:1]
	}
	c := uuid[len(uuid)-1]
	if c == '-' || c == '_' {
		t = GenTie()[:1]
	}
	return h + uuid + t
}

func IsValidUUID(uuid string) bool {
	return len(uuid) >= LenShortID
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// 3-letter tie breaker (fast, no crypto/rand on the hot path)
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
