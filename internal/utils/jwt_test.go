package utils

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/stretchr/testify/suite"
)

// JWTTestSuite JWT工具测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager(
		"test-secret-key",
		"trueswiftie",
		1*time.Hour,
		7*24*time.Hour,
	)
}

func (suite *JWTTestSuite) TestNewJWTManagerFromConfig() {
	manager := NewJWTManagerFromConfig(config.JWTConfig{
		Secret:       "secret",
		Issuer:       "ts",
		ExpireHours:  2,
		RefreshHours: 48,
	})
	suite.Equal(2*time.Hour, manager.GetTokenExpiry(TokenTypeAccess))
	suite.Equal(48*time.Hour, manager.GetTokenExpiry(TokenTypeRefresh))
	suite.Equal(2*time.Hour, manager.GetTokenExpiry("unknown"))
}

// 测试验证令牌
func (suite *JWTTestSuite) TestValidateToken() {
	token, err := suite.manager.GenerateAccessToken(789, "swiftie")
	suite.Require().NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateToken(token)
	suite.Require().NoError(err)
	suite.Equal(uint(789), claims.UserID)
	suite.Equal("swiftie", claims.Username)
	suite.Equal(TokenTypeAccess, claims.TokenType)
	suite.Equal("trueswiftie", claims.Issuer)
	suite.Greater(claims.ExpiresAt.Unix(), claims.IssuedAt.Unix())
}

// 测试验证无效令牌
func (suite *JWTTestSuite) TestValidateInvalidToken() {
	claims, err := suite.manager.ValidateToken("invalid.token.format")
	suite.Error(err)
	suite.Nil(claims)

	// 错误的签名
	wrongManager := NewJWTManager("wrong-secret", "trueswiftie", time.Hour, time.Hour)
	token, _ := wrongManager.GenerateAccessToken(1, "user")
	claims, err = suite.manager.ValidateToken(token)
	suite.Error(err)
	suite.Nil(claims)
}

// 测试过期令牌
func (suite *JWTTestSuite) TestExpiredToken() {
	expiredManager := NewJWTManager("test-secret-key", "trueswiftie", -time.Hour, -time.Hour)
	token, _ := expiredManager.GenerateAccessToken(111, "expired")

	claims, err := suite.manager.ValidateToken(token)
	suite.ErrorIs(err, ErrExpiredToken)
	suite.Nil(claims)
}

// 刷新令牌不能当访问令牌用
func (suite *JWTTestSuite) TestValidateAccessToken() {
	refresh, _ := suite.manager.GenerateRefreshToken(5, "user")
	_, err := suite.manager.ValidateAccessToken(refresh)
	suite.ErrorIs(err, ErrInvalidToken)

	access, _ := suite.manager.GenerateAccessToken(5, "user")
	claims, err := suite.manager.ValidateAccessToken(access)
	suite.NoError(err)
	suite.Equal(uint(5), claims.UserID)
}

// 测试刷新访问令牌
func (suite *JWTTestSuite) TestRefreshAccessToken() {
	refreshToken, _ := suite.manager.GenerateRefreshToken(222, "refreshuser")

	newAccessToken, err := suite.manager.RefreshAccessToken(refreshToken)
	suite.Require().NoError(err)

	claims, err := suite.manager.ValidateAccessToken(newAccessToken)
	suite.Require().NoError(err)
	suite.Equal(uint(222), claims.UserID)
	suite.Equal("refreshuser", claims.Username)
}

// 测试无效的刷新令牌
func (suite *JWTTestSuite) TestRefreshWithInvalidToken() {
	accessToken, _ := suite.manager.GenerateAccessToken(1, "user")
	newToken, err := suite.manager.RefreshAccessToken(accessToken)
	suite.Error(err)
	suite.Empty(newToken)

	newToken, err = suite.manager.RefreshAccessToken("invalid.token")
	suite.Error(err)
	suite.Empty(newToken)
}

// 测试并发生成令牌
func (suite *JWTTestSuite) TestConcurrentTokenGeneration() {
	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			tokens[id], _ = suite.manager.GenerateAccessToken(uint(id), fmt.Sprintf("user%d", id))
		}(i)
	}
	wg.Wait()

	for i, token := range tokens {
		claims, err := suite.manager.ValidateToken(token)
		suite.Require().NoError(err)
		suite.Equal(uint(i), claims.UserID)
	}
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
