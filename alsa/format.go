package alsa

import (
	"fmt"

	"github.com/gen2brain/vaudio"
)

type pcmFormatKey struct {
	enc       vaudio.Encoding
	precision uint32
	validBits uint32
}

var pcmFormats = map[pcmFormatKey]PcmFormat{
	{vaudio.AUDIO_ENCODING_ULAW, 8, 8}:       SNDRV_PCM_FORMAT_MU_LAW,
	{vaudio.AUDIO_ENCODING_ALAW, 8, 8}:       SNDRV_PCM_FORMAT_A_LAW,
	{vaudio.AUDIO_ENCODING_SLINEAR_LE, 8, 8}: SNDRV_PCM_FORMAT_S8,
	{vaudio.AUDIO_ENCODING_ULINEAR_LE, 8, 8}: SNDRV_PCM_FORMAT_U8,

	{vaudio.AUDIO_ENCODING_SLINEAR_LE, 16, 16}: SNDRV_PCM_FORMAT_S16_LE,
	{vaudio.AUDIO_ENCODING_SLINEAR_BE, 16, 16}: SNDRV_PCM_FORMAT_S16_BE,
	{vaudio.AUDIO_ENCODING_ULINEAR_LE, 16, 16}: SNDRV_PCM_FORMAT_U16_LE,
	{vaudio.AUDIO_ENCODING_ULINEAR_BE, 16, 16}: SNDRV_PCM_FORMAT_U16_BE,

	{vaudio.AUDIO_ENCODING_SLINEAR_LE, 24, 24}: SNDRV_PCM_FORMAT_S24_3LE,
	{vaudio.AUDIO_ENCODING_SLINEAR_BE, 24, 24}: SNDRV_PCM_FORMAT_S24_3BE,
	{vaudio.AUDIO_ENCODING_ULINEAR_LE, 24, 24}: SNDRV_PCM_FORMAT_U24_3LE,
	{vaudio.AUDIO_ENCODING_ULINEAR_BE, 24, 24}: SNDRV_PCM_FORMAT_U24_3BE,

	{vaudio.AUDIO_ENCODING_SLINEAR_LE, 32, 24}: SNDRV_PCM_FORMAT_S24_LE,
	{vaudio.AUDIO_ENCODING_SLINEAR_BE, 32, 24}: SNDRV_PCM_FORMAT_S24_BE,
	{vaudio.AUDIO_ENCODING_ULINEAR_LE, 32, 24}: SNDRV_PCM_FORMAT_U24_LE,
	{vaudio.AUDIO_ENCODING_ULINEAR_BE, 32, 24}: SNDRV_PCM_FORMAT_U24_BE,

	{vaudio.AUDIO_ENCODING_SLINEAR_LE, 32, 32}: SNDRV_PCM_FORMAT_S32_LE,
	{vaudio.AUDIO_ENCODING_SLINEAR_BE, 32, 32}: SNDRV_PCM_FORMAT_S32_BE,
	{vaudio.AUDIO_ENCODING_ULINEAR_LE, 32, 32}: SNDRV_PCM_FORMAT_U32_LE,
	{vaudio.AUDIO_ENCODING_ULINEAR_BE, 32, 32}: SNDRV_PCM_FORMAT_U32_BE,
}

// PcmFormatOf returns the ALSA sample format of f. The error wraps
// vaudio.ErrInvalidFormat.
func PcmFormatOf(f vaudio.Format) (PcmFormat, error) {
	valid := f.ValidBits
	if valid == 0 {
		valid = f.Precision
	}

	pf, ok := pcmFormats[pcmFormatKey{f.Encoding, f.Precision, valid}]
	if !ok {
		return SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("no ALSA format for %s: %w", f, vaudio.ErrInvalidFormat)
	}

	return pf, nil
}

// FormatOf returns the vaudio format of an ALSA sample format with the given layout.
func FormatOf(pf PcmFormat, channels, rate uint32) (vaudio.Format, error) {
	for k, v := range pcmFormats {
		if v == pf {
			return vaudio.Format{
				Encoding:   k.enc,
				Precision:  k.precision,
				ValidBits:  k.validBits,
				Channels:   channels,
				SampleRate: rate,
			}, nil
		}
	}

	return vaudio.Format{}, fmt.Errorf("ALSA format %s: %w", pf, vaudio.ErrInvalidFormat)
}

// candidates lists the ALSA formats that can carry f without changing its
// precision, the exact match first.
func candidates(f vaudio.Format) []PcmFormat {
	var out []PcmFormat
	if pf, err := PcmFormatOf(f); err == nil {
		out = append(out, pf)
	}

	valid := f.ValidBits
	if valid == 0 {
		valid = f.Precision
	}
	encodings := []vaudio.Encoding{
		vaudio.AUDIO_ENCODING_SLINEAR_LE, vaudio.AUDIO_ENCODING_SLINEAR_BE,
		vaudio.AUDIO_ENCODING_ULINEAR_LE, vaudio.AUDIO_ENCODING_ULINEAR_BE,
		vaudio.AUDIO_ENCODING_ULAW, vaudio.AUDIO_ENCODING_ALAW,
	}
	for _, enc := range encodings {
		pf, ok := pcmFormats[pcmFormatKey{enc, f.Precision, valid}]
		if !ok || (len(out) > 0 && pf == out[0]) {
			continue
		}
		out = append(out, pf)
	}

	return out
}
