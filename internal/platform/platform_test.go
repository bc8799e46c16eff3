package platform_test

import (
	"testing"

	"github.com/snagbot/snag/internal/platform"
	"github.com/stretchr/testify/assert"
)

func Test_Classify_KnownPlatforms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		expected platform.Platform
	}{
		{"youtube long form", "https://www.youtube.com/watch?v=abc123", platform.YouTube},
		{"youtube short link", "https://youtu.be/abc123", platform.YouTube},
		{"reddit", "https://www.reddit.com/r/pics/comments/xyz/", platform.Reddit},
		{"reddit short link", "https://v.redd.it/abcdef", platform.Reddit},
		{"instagram", "https://www.instagram.com/p/Cxyz/", platform.Instagram},
		{"twitter", "https://twitter.com/user/status/123", platform.Twitter},
		{"x rebrand", "https://x.com/user/status/123", platform.Twitter},
		{"pinterest", "https://www.pinterest.com/pin/123/", platform.Pinterest},
		{"facebook", "https://www.facebook.com/watch/?v=123", platform.Facebook},
		{"tiktok", "https://www.tiktok.com/@user/video/123", platform.TikTok},
		{"telegram", "https://t.me/channel/123", platform.Telegram},
		{"deviantart", "https://www.deviantart.com/artist/art/piece-123", platform.DeviantArt},
		{"flickr", "https://www.flickr.com/photos/user/123/", platform.Flickr},
		{"tumblr", "https://user.tumblr.com/post/123", platform.Tumblr},
		{"behance", "https://www.behance.net/gallery/123/project", platform.Behance},
		{"linkedin", "https://www.linkedin.com/posts/user-activity-123", platform.LinkedIn},
		{"unknown host", "https://example.com/media/123", platform.Unknown},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, platform.Classify(test.url))
		})
	}
}

func Test_Classify_IsCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, platform.YouTube, platform.Classify("HTTPS://WWW.YOUTUBE.COM/watch?v=ABC"))
}

func Test_NormalizeURL_StripsMentionMarkerAndTracking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain url untouched", "https://youtu.be/abc", "https://youtu.be/abc"},
		{"leading mention marker", "@https://youtu.be/abc", "https://youtu.be/abc"},
		{"surrounding whitespace", "  https://youtu.be/abc \n", "https://youtu.be/abc"},
		{"utm as first param", "https://example.com/post?utm_source=share", "https://example.com/post"},
		{"utm as later param", "https://example.com/post?id=1&utm_campaign=x", "https://example.com/post?id=1"},
		{"non-tracking params survive", "https://youtube.com/watch?v=abc", "https://youtube.com/watch?v=abc"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, platform.NormalizeURL(test.raw))
		})
	}
}

// Normalization must be idempotent: running it twice must always produce
// the same output as running it once.
func Test_NormalizeURL_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"@https://www.reddit.com/r/pics/comments/xyz/?utm_source=share&utm_medium=web",
		"https://youtu.be/abc",
		"  @https://example.com/post?id=1&utm_term=z ",
	}

	for _, input := range inputs {
		once := platform.NormalizeURL(input)
		assert.Equal(t, once, platform.NormalizeURL(once))
	}
}

func Test_IsSupportedURL(t *testing.T) {
	t.Parallel()

	assert.True(t, platform.IsSupportedURL("https://youtube.com/watch?v=a"))
	assert.True(t, platform.IsSupportedURL("http://example.com/file"))
	assert.False(t, platform.IsSupportedURL("not a url"))
	assert.False(t, platform.IsSupportedURL("ftp://example.com/file"))
	assert.False(t, platform.IsSupportedURL("https://nodots"))
}

func Test_Bias_PartitionsPlatforms(t *testing.T) {
	t.Parallel()

	videoBiased := []platform.Platform{platform.Reddit, platform.Facebook, platform.LinkedIn, platform.TikTok, platform.YouTube}
	for _, p := range videoBiased {
		assert.Equal(t, platform.VideoBias, p.Bias(), "platform %s", p)
	}

	imageBiased := []platform.Platform{platform.Pinterest, platform.DeviantArt, platform.Flickr, platform.Behance, platform.Tumblr}
	for _, p := range imageBiased {
		assert.Equal(t, platform.ImageBias, p.Bias(), "platform %s", p)
	}

	mixed := []platform.Platform{platform.Instagram, platform.Twitter, platform.Telegram, platform.Unknown}
	for _, p := range mixed {
		assert.Equal(t, platform.MixedBias, p.Bias(), "platform %s", p)
	}
}

func Test_SplitStreamDelivery(t *testing.T) {
	t.Parallel()

	assert.True(t, platform.Reddit.SplitStreamDelivery())
	assert.True(t, platform.Facebook.SplitStreamDelivery())
	assert.False(t, platform.YouTube.SplitStreamDelivery())
	assert.False(t, platform.Instagram.SplitStreamDelivery())
}
