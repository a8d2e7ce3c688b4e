package provider

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldUID           = "uid"
	fieldEmail         = "email"
	fieldPasswordHash  = "passwordHash"
	fieldEmailVerified = "emailVerified"
	fieldProvider      = "provider"
	fieldCreatedAt     = "createdAt"
	fieldDisabled      = "disabled"
)

var errAccountNotFound = errors.New("account not found")

// account is the stored identity record.
type account struct {
	UID           string
	Email         string
	PasswordHash  string
	EmailVerified bool
	Provider      string
	CreatedAt     int64
	Disabled      bool
}

func (a *account) fields() map[string]any {
	return map[string]any{
		fieldUID:           a.UID,
		fieldEmail:         a.Email,
		fieldPasswordHash:  a.PasswordHash,
		fieldEmailVerified: strconv.FormatBool(a.EmailVerified),
		fieldProvider:      a.Provider,
		fieldCreatedAt:     strconv.FormatInt(a.CreatedAt, 10),
		fieldDisabled:      strconv.FormatBool(a.Disabled),
	}
}

func decodeAccount(values map[string]string) (*account, error) {
	if len(values) == 0 || values[fieldUID] == "" {
		return nil, errAccountNotFound
	}
	a := &account{
		UID:          values[fieldUID],
		Email:        values[fieldEmail],
		PasswordHash: values[fieldPasswordHash],
		Provider:     values[fieldProvider],
	}
	a.EmailVerified, _ = strconv.ParseBool(values[fieldEmailVerified])
	a.Disabled, _ = strconv.ParseBool(values[fieldDisabled])
	a.CreatedAt, _ = strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	return a, nil
}

func (p *Provider) accountKey(uid string) string {
	return p.cfg.RedisPrefix + ":account:" + uid
}

func (p *Provider) emailKey(email string) string {
	return p.cfg.RedisPrefix + ":email:" + email
}

func (p *Provider) federatedKey(issuer, subject string) string {
	return p.cfg.RedisPrefix + ":federated:" + issuer + ":" + subject
}

func (p *Provider) linksKey(uid string) string {
	return p.cfg.RedisPrefix + ":links:" + uid
}

func (p *Provider) loadAccount(ctx context.Context, uid string) (*account, error) {
	values, err := p.rdb.HGetAll(ctx, p.accountKey(uid)).Result()
	if err != nil {
		return nil, err
	}
	return decodeAccount(values)
}

// lookupUID resolves an index key to a uid. A missing key returns
// errAccountNotFound.
func (p *Provider) lookupUID(ctx context.Context, key string) (string, error) {
	uid, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errAccountNotFound
	}
	return uid, err
}

// insertAccount claims the email index and writes the record. It returns
// false when the email is already claimed.
func (p *Provider) insertAccount(ctx context.Context, a *account) (bool, error) {
	claimed, err := p.rdb.SetNX(ctx, p.emailKey(a.Email), a.UID, 0).Result()
	if err != nil || !claimed {
		return false, err
	}
	if err := p.rdb.HSet(ctx, p.accountKey(a.UID), a.fields()).Err(); err != nil {
		_ = p.rdb.Del(ctx, p.emailKey(a.Email)).Err()
		return false, err
	}
	return true, nil
}

// linkFederated points issuer/subject at uid.
func (p *Provider) linkFederated(ctx context.Context, uid, issuer, subject string) error {
	key := p.federatedKey(issuer, subject)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, uid, 0)
		pipe.SAdd(ctx, p.linksKey(uid), key)
		return nil
	})
	return err
}

// removeAccount deletes the record and every index that points at it.
func (p *Provider) removeAccount(ctx context.Context, a *account) error {
	links, err := p.rdb.SMembers(ctx, p.linksKey(a.UID)).Result()
	if err != nil {
		return err
	}
	keys := append([]string{p.accountKey(a.UID), p.emailKey(a.Email), p.linksKey(a.UID)}, links...)
	return p.rdb.Del(ctx, keys...).Err()
}
