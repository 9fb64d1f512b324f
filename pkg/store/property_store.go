package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// PropertyStore persists properties, components and contractors.
type PropertyStore struct {
	db *sql.DB
}

// Get loads one property.
func (s *PropertyStore) Get(ctx context.Context, id string) (*contracts.Property, error) {
	var p contracts.Property
	var line2, city, postcode sql.NullString
	var metadata []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, organisation_id, address_line_1, address_line_2, city, postcode,
			extracted_metadata, updated_at
		FROM properties WHERE id = $1
	`, id).Scan(&p.ID, &p.OrganisationID, &p.AddressLine1, &line2, &city, &postcode,
		&metadata, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan property: %w", err)
	}

	p.AddressLine2 = line2.String
	p.City = city.String
	p.Postcode = postcode.String
	if len(metadata) > 0 {
		p.ExtractedMetadata = json.RawMessage(metadata)
	}
	return &p, nil
}

// UpdateAddress overwrites the address fields. The caller only invokes this
// when the extracted address passed the plausibility gate.
func (s *PropertyStore) UpdateAddress(ctx context.Context, id, line1, city, postcode string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE properties SET address_line_1 = $1, city = COALESCE(NULLIF($2, ''), city),
			postcode = COALESCE(NULLIF($3, ''), postcode), updated_at = $4
		WHERE id = $5
	`, line1, city, postcode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update property %s address: %w", id, err)
	}
	return nil
}

// MergeMetadata shallow-merges extracted metadata into the property's JSON.
func (s *PropertyStore) MergeMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	if len(metadata) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE properties
		SET extracted_metadata = COALESCE(extracted_metadata, '{}'::jsonb) || $1::jsonb,
			updated_at = $2
		WHERE id = $3
	`, []byte(metadata), time.Now(), id)
	if err != nil {
		return fmt.Errorf("merge property %s metadata: %w", id, err)
	}
	return nil
}

// UpsertComponent auto-creates a component keyed on (property, type, serial).
// Serial-less components key on (property, type, name) instead.
func (s *PropertyStore) UpsertComponent(ctx context.Context, c *contracts.Component) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO components (id, property_id, certificate_id, type_code, name,
			make, model, serial_number, location, install_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (property_id, type_code, COALESCE(serial_number, name)) DO UPDATE SET
			certificate_id = EXCLUDED.certificate_id,
			make = COALESCE(NULLIF(EXCLUDED.make, ''), components.make),
			model = COALESCE(NULLIF(EXCLUDED.model, ''), components.model),
			location = COALESCE(NULLIF(EXCLUDED.location, ''), components.location)
		RETURNING id
	`, c.ID, c.PropertyID, nullStr(c.CertificateID), c.TypeCode, c.Name,
		nullStr(c.Make), nullStr(c.Model), nullStr(c.SerialNumber),
		nullStr(c.Location), nullTime(c.InstallDate), time.Now()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert component %s: %w", c.Name, err)
	}
	return id, nil
}

// UpsertContractor auto-creates a contractor keyed on registration number,
// falling back to name when the certificate carried no registration.
func (s *PropertyStore) UpsertContractor(ctx context.Context, c *contracts.Contractor) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contractors (id, organisation_id, name, registration_number,
			registration_body, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organisation_id, COALESCE(registration_number, name)) DO UPDATE SET
			name = EXCLUDED.name,
			registration_body = COALESCE(NULLIF(EXCLUDED.registration_body, ''), contractors.registration_body),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), contractors.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), contractors.phone)
		RETURNING id
	`, c.ID, c.OrganisationID, c.Name, nullStr(c.RegistrationNumber),
		nullStr(c.RegistrationBody), nullStr(c.Email), nullStr(c.Phone), time.Now()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert contractor %s: %w", c.Name, err)
	}
	return id, nil
}
