package hash

import (
	"github.com/pyr33x/goqttd/pkg/er"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is used by authfile loaders that don't specify one.
const DefaultCost = bcrypt.DefaultCost

func HashPasswd(passwd string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), cost)
	if err != nil {
		return "", er.New("Hash", er.KindUnclassified, er.ErrHashFailed)
	}

	return string(hash), nil
}

// VerifyPasswd reports whether passwd matches the bcrypt hash. A malformed
// hash is treated as a mismatch, not an error: the caller always wants a
// yes/no answer to "did this password unlock this account".
func VerifyPasswd(hash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passwd))
	return err == nil
}
