package dispatcher

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"printflow/internal/certificate/models"
	"printflow/internal/print/photo"
)

const timestampLayout = "20060102150405"

// manifestColumns is the provider contract; order matters, renames break
// their importer.
var manifestColumns = []string{
	"requestId",
	"certificateNumber",
	"issuingAuthority",
	"fullName",
	"certificateLanguage",
	"deliveryMethod",
	"addressLine1",
	"addressLine2",
	"addressLine3",
	"addressTown",
	"addressPostcode",
	"photo",
}

var fieldSanitizer = strings.NewReplacer("|", " ", "\r", " ", "\n", " ")

func bundleName(batchID string, at time.Time, count int) string {
	return fmt.Sprintf("%s-%s-%d.zip", batchID, at.Format(timestampLayout), count)
}

func manifestName(batchID string, at time.Time) string {
	return fmt.Sprintf("%s-%s.psv", batchID, at.Format(timestampLayout))
}

// writeBundle streams the zip straight into w: the manifest entry first, then
// one photo entry per request copied directly from the source, so memory use
// stays flat regardless of batch size.
func writeBundle(ctx context.Context, w io.Writer, batchID string, at time.Time,
	certs []*models.Certificate, photos photo.Source) error {
	zw := zip.NewWriter(w)

	manifest, err := zw.Create(manifestName(batchID, at))
	if err != nil {
		return fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := fmt.Fprintln(manifest, strings.Join(manifestColumns, "|")); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	for _, cert := range certs {
		request, err := cert.PrintRequestForBatch(batchID)
		if err != nil {
			return fmt.Errorf("certificate %s: %w", cert.ID, err)
		}
		if _, err := fmt.Fprintln(manifest, manifestRow(cert, request)); err != nil {
			return fmt.Errorf("write manifest row for %s: %w", request.RequestID, err)
		}
	}

	for _, cert := range certs {
		request, err := cert.PrintRequestForBatch(batchID)
		if err != nil {
			return fmt.Errorf("certificate %s: %w", cert.ID, err)
		}
		if err := writePhoto(ctx, zw, request, photos); err != nil {
			return err
		}
	}

	return zw.Close()
}

func manifestRow(cert *models.Certificate, request *models.PrintRequest) string {
	applicant := request.Applicant
	fields := []string{
		request.RequestID,
		cert.CertificateNumber,
		cert.IssuingAuthority,
		applicant.FullName,
		string(applicant.Language),
		string(applicant.DeliveryMethod),
		applicant.Address.Line1,
		applicant.Address.Line2,
		applicant.Address.Line3,
		applicant.Address.Town,
		applicant.Address.Postcode,
		photoEntryName(request),
	}
	for i, field := range fields {
		// Neither the delimiter nor a line break may appear inside a field.
		fields[i] = fieldSanitizer.Replace(field)
	}
	return strings.Join(fields, "|")
}

func photoEntryName(request *models.PrintRequest) string {
	return request.RequestID + ".png"
}

func writePhoto(ctx context.Context, zw *zip.Writer, request *models.PrintRequest, photos photo.Source) error {
	body, err := photos.Fetch(ctx, request.PhotoLocation)
	if err != nil {
		return fmt.Errorf("fetch photo %s for request %s: %w", request.PhotoLocation, request.RequestID, err)
	}
	defer body.Close()

	entry, err := zw.Create(photoEntryName(request))
	if err != nil {
		return fmt.Errorf("create photo entry for request %s: %w", request.RequestID, err)
	}
	if _, err := io.Copy(entry, body); err != nil {
		return fmt.Errorf("write photo for request %s: %w", request.RequestID, err)
	}
	return nil
}
