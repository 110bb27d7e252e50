// Package s3 implements the media interface by storing objects in an
// Amazon S3 bucket.
package s3

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/letschat/letschat/client/media"
)

const handlerName = "s3"

type awsconfig struct {
	AccessKeyId     string   `json:"access_key_id"`
	SecretAccessKey string   `json:"secret_access_key"`
	Region          string   `json:"region"`
	DisableSSL      bool     `json:"disable_ssl"`
	ForcePathStyle  bool     `json:"force_path_style"`
	Endpoint        string   `json:"endpoint"`
	BucketName      string   `json:"bucket"`
	CorsOrigins     []string `json:"cors_origins"`
	ServeURL        string   `json:"serve_url"`
}

type awshandler struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
	conf     awsconfig
}

// readerCounter counts the bytes read through it.
type readerCounter struct {
	reader io.Reader
	count  int64
}

func (rc *readerCounter) Read(buf []byte) (int, error) {
	n, err := rc.reader.Read(buf)
	rc.count += int64(n)
	return n, err
}

// Init initializes the media handler.
func (ah *awshandler) Init(jsonconf json.RawMessage) error {
	var err error
	if err = json.Unmarshal(jsonconf, &ah.conf); err != nil {
		return errors.New("s3: failed to parse config: " + err.Error())
	}

	if ah.conf.AccessKeyId == "" {
		return errors.New("s3: missing Access Key ID")
	}
	if ah.conf.SecretAccessKey == "" {
		return errors.New("s3: missing Secret Access Key")
	}
	if ah.conf.Region == "" {
		return errors.New("s3: missing Region")
	}
	if ah.conf.BucketName == "" {
		return errors.New("s3: missing Bucket")
	}

	var sess *session.Session
	if sess, err = session.NewSession(&aws.Config{
		Region:           aws.String(ah.conf.Region),
		DisableSSL:       aws.Bool(ah.conf.DisableSSL),
		S3ForcePathStyle: aws.Bool(ah.conf.ForcePathStyle),
		Endpoint:         aws.String(ah.conf.Endpoint),
		Credentials:      credentials.NewStaticCredentials(ah.conf.AccessKeyId, ah.conf.SecretAccessKey, ""),
	}); err != nil {
		return err
	}

	ah.svc = s3.New(sess)
	ah.uploader = s3manager.NewUploaderWithClient(ah.svc)

	// Check if the bucket already exists.
	_, err = ah.svc.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(ah.conf.BucketName)})
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != s3.ErrCodeNoSuchBucket {
		// Hard error.
		return err
	}

	// Bucket does not exist. Create one.
	_, err = ah.svc.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(ah.conf.BucketName)})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			if aerr.Code() == s3.ErrCodeBucketAlreadyExists ||
				aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou ||
				// A conflicting conditional operation is in progress.
				aerr.Code() == "OperationAborted" {
				// Clear benign error.
				err = nil
			}
		}
		return err
	}

	// New bucket: set up CORS so avatars can be served directly from S3.
	origins := ah.conf.CorsOrigins
	if len(origins) == 0 {
		origins = append(origins, "*")
	}
	_, err = ah.svc.PutBucketCors(&s3.PutBucketCorsInput{
		Bucket: aws.String(ah.conf.BucketName),
		CORSConfiguration: &s3.CORSConfiguration{
			CORSRules: []*s3.CORSRule{{
				AllowedMethods: aws.StringSlice([]string{http.MethodGet, http.MethodHead}),
				AllowedOrigins: aws.StringSlice(origins),
				AllowedHeaders: aws.StringSlice([]string{"*"}),
			}},
		},
	})
	return err
}

// Upload stores the object in the bucket under its key.
func (ah *awshandler) Upload(key string, file io.Reader) (string, int64, error) {
	rc := readerCounter{reader: file}
	result, err := ah.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(ah.conf.BucketName),
		Key:    aws.String(key),
		Body:   &rc,
	})
	if err != nil {
		return "", 0, err
	}

	url := result.Location
	if ah.conf.ServeURL != "" {
		url = ah.conf.ServeURL + key
	}
	return url, rc.count, nil
}

func init() {
	media.RegisterHandler(handlerName, &awshandler{})
}
