package platform

import "strings"

type (
	// Platform identifies the service a URL belongs to. Derived once per
	// request by substring matching and immutable afterwards.
	Platform string

	// Bias is a coarse hint about the kind of content a platform
	// predominantly serves, used to order tool fallback chains.
	Bias int
)

const (
	Pinterest  Platform = "pinterest"
	DeviantArt Platform = "deviantart"
	Flickr     Platform = "flickr"
	Reddit     Platform = "reddit"
	Tumblr     Platform = "tumblr"
	Behance    Platform = "behance"
	LinkedIn   Platform = "linkedin"
	Telegram   Platform = "telegram"
	Instagram  Platform = "instagram"
	Twitter    Platform = "twitter"
	Facebook   Platform = "facebook"
	TikTok     Platform = "tiktok"
	YouTube    Platform = "youtube"
	Unknown    Platform = "unknown"
)

const (
	MixedBias Bias = iota
	VideoBias
	ImageBias
)

// classificationTable is the ordered substring -> platform mapping. The
// first matching entry wins, so more specific fragments must come before
// any fragment they could be shadowed by.
var classificationTable = []struct {
	fragment string
	platform Platform
}{
	{"pinterest.com", Pinterest},
	{"deviantart.com", DeviantArt},
	{"flickr.com", Flickr},
	{"reddit.com", Reddit},
	{"redd.it", Reddit},
	{"tumblr.com", Tumblr},
	{"behance.net", Behance},
	{"linkedin.com", LinkedIn},
	{"t.me", Telegram},
	{"instagram.com", Instagram},
	{"twitter.com", Twitter},
	{"x.com", Twitter},
	{"facebook.com", Facebook},
	{"tiktok.com", TikTok},
	{"youtube.com", YouTube},
	{"youtu.be", YouTube},
}

// trackingParams are query parameters which some clients append to shared
// links and which upset the extraction tools. NormalizeURL cuts the URL at
// the first one found.
var trackingParams = []string{
	"utm_source=",
	"utm_medium=",
	"utm_name=",
	"utm_term=",
	"utm_content=",
	"utm_campaign=",
}

// NormalizeURL strips a leading mention marker and any known tracking
// query parameters from a user-provided URL. Normalizing an already
// normalized URL is a no-op.
func NormalizeURL(raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.TrimPrefix(url, "@")

	for _, param := range trackingParams {
		if idx := strings.Index(url, "?"+param); idx != -1 {
			return url[:idx]
		}
		if idx := strings.Index(url, "&"+param); idx != -1 {
			return url[:idx]
		}
	}

	return url
}

// IsSupportedURL reports whether the provided text plausibly refers to a
// downloadable web resource. Anything more thorough is left to the
// extraction tools themselves.
func IsSupportedURL(url string) bool {
	return (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) &&
		strings.Contains(url, ".")
}

// Classify maps a normalized URL to its platform. Pure and deterministic;
// URLs matching no table entry classify as Unknown.
func Classify(url string) Platform {
	lowered := strings.ToLower(url)
	for _, entry := range classificationTable {
		if strings.Contains(lowered, entry.fragment) {
			return entry.platform
		}
	}

	return Unknown
}

// Bias returns the content-capability hint for this platform.
func (p Platform) Bias() Bias {
	switch p {
	case Reddit, Facebook, LinkedIn, TikTok, YouTube:
		return VideoBias
	case Pinterest, DeviantArt, Flickr, Behance, Tumblr:
		return ImageBias
	default:
		return MixedBias
	}
}

// SplitStreamDelivery reports whether this platform is known to serve
// video and audio as separate elementary streams, requiring a remux step
// for full-quality downloads.
func (p Platform) SplitStreamDelivery() bool {
	return p == Reddit || p == Facebook
}

func (b Bias) String() string {
	switch b {
	case VideoBias:
		return "VIDEO"
	case ImageBias:
		return "IMAGE"
	default:
		return "MIXED"
	}
}
