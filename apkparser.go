// Package axmlparser decodes Android binary XML (AndroidManifest.xml and other
// compiled XML from APKs) and the resources.arsc resource table.
package axmlparser

import (
	"bytes"

	"github.com/pkg/errors"
)

const (
	ManifestEntry  = "AndroidManifest.xml"
	ResourcesEntry = "resources.arsc"
)

// Parse APK's Manifest. encoder expects an XML encoder instance, like Encoder
// from encoding/xml package.
//
// zipErr != nil means the APK couldn't be opened.
func ParseApk(path string, encoder ManifestEncoder) (zipErr, manifestErr error) {
	zip, zipErr := OpenZip(path)
	if zipErr != nil {
		return
	}
	defer zip.Close()

	manifestErr = ParseApkWithZip(zip, encoder)
	return
}

// Parse APK's Manifest from an already opened zip. This method will not Close() the zip.
func ParseApkWithZip(zip *ZipReader, encoder ManifestEncoder) error {
	data, err := zip.ReadEntry(ManifestEntry, DefaultEntryLimit)
	if err != nil {
		return errors.Wrapf(err, "Failed to read %s", ManifestEntry)
	}

	if err := ParseXml(bytes.NewReader(data), encoder); err != nil {
		if err == ErrPlainTextManifest {
			return err
		}
		return errors.Wrap(err, "Failed to parse manifest")
	}
	return nil
}

// Parse the APK's resources.arsc.
func ParseApkResources(zip *ZipReader) (*ResourceTable, error) {
	data, err := zip.ReadEntry(ResourcesEntry, DefaultEntryLimit)
	if err != nil {
		return nil, err
	}
	return ParseResourceTable(bytes.NewReader(data))
}
