package flags

import "github.com/spaolacci/murmur3"

// HashAlgorithm names the pinned bucketing hash. Changing it reshuffles every
// user across every flag, so it is part of the public contract.
const HashAlgorithm = "murmur3_x86_32/seed=0"

// Bucket maps (userID, flagName) to [0,99].
//
// The hash input is "<userID>_<flagName>". Salting with the flag name keeps a
// user's membership in one flag's rollout independent from every other flag.
func Bucket(userID, flagName string) int {
	return int(murmur3.Sum32([]byte(userID+"_"+flagName)) % 100)
}

// InRollout reports whether bucket falls under percent. Raising percent never
// removes a user who was already included.
func InRollout(bucket, percent int) bool {
	return bucket < percent
}
