package crypto

import (
	"fmt"

	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

// SealCredentials encrypts creds into a storage row for userID.
func (v *Vault) SealCredentials(userID string, creds common.Credentials) (db.ExchangeCredential, error) {
	row := db.ExchangeCredential{
		UserID:     userID,
		Exchange:   string(creds.Exchange),
		KeyVersion: v.CurrentVersion(),
		IsActive:   true,
	}
	var err error
	if row.APIKeyEncrypted, err = v.Encrypt(creds.APIKey); err != nil {
		return db.ExchangeCredential{}, fmt.Errorf("seal %s api key: %w", creds.Exchange, err)
	}
	if row.SecretKeyEncrypted, err = v.Encrypt(creds.SecretKey); err != nil {
		return db.ExchangeCredential{}, fmt.Errorf("seal %s secret: %w", creds.Exchange, err)
	}
	if creds.Passphrase != "" {
		if row.PassphraseEncrypted, err = v.Encrypt(creds.Passphrase); err != nil {
			return db.ExchangeCredential{}, fmt.Errorf("seal %s passphrase: %w", creds.Exchange, err)
		}
	}
	return row, nil
}

// OpenCredentials reverses SealCredentials.
func (v *Vault) OpenCredentials(row db.ExchangeCredential) (common.Credentials, error) {
	ex, err := common.ParseExchange(row.Exchange)
	if err != nil {
		return common.Credentials{}, err
	}
	creds := common.Credentials{Exchange: ex}
	if creds.APIKey, err = v.Decrypt(row.APIKeyEncrypted); err != nil {
		return common.Credentials{}, fmt.Errorf("open %s api key: %w", ex, err)
	}
	if creds.SecretKey, err = v.Decrypt(row.SecretKeyEncrypted); err != nil {
		return common.Credentials{}, fmt.Errorf("open %s secret: %w", ex, err)
	}
	if row.PassphraseEncrypted != "" {
		if creds.Passphrase, err = v.Decrypt(row.PassphraseEncrypted); err != nil {
			return common.Credentials{}, fmt.Errorf("open %s passphrase: %w", ex, err)
		}
	}
	return creds, nil
}
