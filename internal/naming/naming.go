// Package naming derives processing job names, join keys, and object store
// paths from an uploaded video's identity.
//
// The write side (launcher) and the read side (status reconciler) must agree
// on one normalization rule for the input identifier, otherwise the status
// join silently drops rows. Uploads go through Digest, which strips the
// directory prefix and the extension before hashing. Processed artifacts
// recover the same stem from their output directory and hash it without
// stripping again:
//
//	client_upload/video1.mp4  ->  video1  ->  md5 hex
//	outputs/video1_2024-05-01-10-00-00/video/video1.mp4  ->  video1  ->  md5 hex
//	client_upload/cam1.2024.mp4  ->  cam1.2024  ->  md5 hex
package naming

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxJobNameLength is the SageMaker processing job name limit.
const MaxJobNameLength = 63

// Object store key prefixes shared with the remote processing image.
const (
	UploadPrefix     = "client_upload/"
	SubmissionPrefix = "submissions/"
	OutputPrefix     = "outputs/"
	VectorsFileName  = "vectors.txt"
)

// OutputTimeLayout is the timestamp suffix appended to a submission's output
// directory: outputs/{basename}_{OutputTimeLayout}/.
const OutputTimeLayout = "2006-01-02-15-04-05"

// JoinKey correlates records across the unprocessed listing, the job listing,
// and the processed listing. It is the hex digest produced by Digest.
type JoinKey string

var (
	jobNameRegex   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	parseNameRegex = regexp.MustCompile(`^fn-([0-9a-f]{32})-vn-([a-z0-9-]+)-e-([0-9]+)$`)
	nonAlnumRegex  = regexp.MustCompile(`[^a-z0-9]+`)

	// outputSuffixRegex matches the generated timestamp suffix on an output
	// directory. Both the dashed layout and RFC 3339-style values are accepted.
	outputSuffixRegex = regexp.MustCompile(`_\d{4}-\d{2}-\d{2}[T-]\d{2}[-:]\d{2}[-:]\d{2}(\.\d+)?Z?$`)
)

// Normalize strips any directory prefix and the final extension from an
// input identifier.
func Normalize(identifier string) string {
	base := path.Base(strings.ReplaceAll(identifier, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Digest returns the 128-bit hex content digest of the normalized identifier.
func Digest(identifier string) JoinKey {
	return digestOf(Normalize(identifier))
}

// digestOf hashes an already-normalized stem. Callers strip exactly once:
// a stem may itself contain dots ("cam1.2024").
func digestOf(stem string) JoinKey {
	sum := md5.Sum([]byte(stem))
	return JoinKey(hex.EncodeToString(sum[:]))
}

// DeriveJobName returns a job name for the input at the current time.
func DeriveJobName(identifier, version string) string {
	return DeriveJobNameAt(identifier, version, time.Now())
}

// DeriveJobNameAt returns fn-{digest}-vn-{version}-e-{epoch seconds}.
//
// Two derivations for the same input share the digest component and differ
// in the epoch component once a second has elapsed. If the version pushes
// the name past MaxJobNameLength, the version component is replaced by a
// short digest of the version string.
func DeriveJobNameAt(identifier, version string, at time.Time) string {
	digest := Digest(identifier)
	epoch := strconv.FormatInt(at.Unix(), 10)
	v := SanitizeVersion(version)

	name := fmt.Sprintf("fn-%s-vn-%s-e-%s", digest, v, epoch)
	if len(name) <= MaxJobNameLength {
		return name
	}

	sum := md5.Sum([]byte(version))
	budget := MaxJobNameLength - len(fmt.Sprintf("fn-%s-vn--e-%s", digest, epoch))
	short := hex.EncodeToString(sum[:])
	if budget < len(short) {
		short = short[:max(budget, 1)]
	}
	return fmt.Sprintf("fn-%s-vn-%s-e-%s", digest, short, epoch)
}

// SanitizeVersion maps a version string onto the job name charset:
// lowercase alphanumerics with single hyphens, e.g. "1.2.29" -> "1-2-29".
func SanitizeVersion(version string) string {
	v := nonAlnumRegex.ReplaceAllString(strings.ToLower(version), "-")
	v = strings.Trim(v, "-")
	if v == "" {
		return "0"
	}
	return v
}

// ValidateJobName reports whether name satisfies the processing service's
// naming constraint.
func ValidateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("job name is empty")
	}
	if len(name) > MaxJobNameLength {
		return fmt.Errorf("job name %q is %d chars, limit is %d", name, len(name), MaxJobNameLength)
	}
	if !jobNameRegex.MatchString(name) {
		return fmt.Errorf("job name %q must be lowercase alphanumerics and hyphens", name)
	}
	return nil
}

// ParsedJobName holds the components recovered from a derived job name.
type ParsedJobName struct {
	Digest  JoinKey
	Version string
	Epoch   int64
}

// ParseJobName splits a job name produced by DeriveJobNameAt. Names from
// other producers return ok=false.
func ParseJobName(name string) (ParsedJobName, bool) {
	m := parseNameRegex.FindStringSubmatch(name)
	if m == nil {
		return ParsedJobName{}, false
	}
	epoch, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return ParsedJobName{}, false
	}
	return ParsedJobName{Digest: JoinKey(m[1]), Version: m[2], Epoch: epoch}, true
}

// UploadKey returns the object key for an uploaded file.
func UploadKey(filename string) string {
	return UploadPrefix + path.Base(strings.ReplaceAll(filename, "\\", "/"))
}

// SubmissionPrefixFor returns submissions/{basename}/ for the input.
func SubmissionPrefixFor(identifier string) string {
	return SubmissionPrefix + Normalize(identifier) + "/"
}

// VectorsKey returns submissions/{basename}/vectors.txt for the input.
func VectorsKey(identifier string) string {
	return SubmissionPrefixFor(identifier) + VectorsFileName
}

// OutputPrefixFor returns outputs/{basename}_{timestamp}/ for the input.
func OutputPrefixFor(identifier string, at time.Time) string {
	return OutputPrefix + Normalize(identifier) + "_" + at.UTC().Format(OutputTimeLayout) + "/"
}

// ProcessedBasename recovers the submission basename from a processed
// artifact key by taking the output directory component and stripping the
// generated timestamp suffix. ok is false when the key is not under
// OutputPrefix.
func ProcessedBasename(key string) (string, bool) {
	rest, found := strings.CutPrefix(key, OutputPrefix)
	if !found {
		return "", false
	}
	dir, _, _ := strings.Cut(rest, "/")
	if dir == "" {
		return "", false
	}
	return outputSuffixRegex.ReplaceAllString(dir, ""), true
}

// ProcessedJoinKey returns the join key for a processed artifact key.
func ProcessedJoinKey(key string) (JoinKey, bool) {
	base, ok := ProcessedBasename(key)
	if !ok || base == "" {
		return "", false
	}
	return digestOf(base), true
}
